package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// WorktreeInfo holds parsed worktree metadata from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Branch string
	HEAD   string
}

// Client defines the interface for git operations on arbitrary repos.
// All methods take a path parameter since sessions may target any repo.
type Client interface {
	RepoRoot(ctx context.Context, path string) (string, error)
	IsRepository(ctx context.Context, path string) bool
	CurrentBranch(ctx context.Context, path string) (string, error)
	IsDirty(ctx context.Context, path string) (bool, error)
	WorktreeAdd(ctx context.Context, repoPath, worktreePath, branch string) error
	WorktreeRemove(ctx context.Context, repoPath, worktreePath string, force bool) error
	WorktreeList(ctx context.Context, repoPath string) ([]WorktreeInfo, error)
	WorktreePrune(ctx context.Context, repoPath string) error
	DeleteBranch(ctx context.Context, repoPath, branch string, force bool) error
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(ctx context.Context, path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) RepoRoot(ctx context.Context, path string) (string, error) {
	return gitCmd(ctx, path, "rev-parse", "--show-toplevel")
}

func (c *RealClient) IsRepository(ctx context.Context, path string) bool {
	_, err := gitCmd(ctx, path, "rev-parse", "--git-dir")
	return err == nil
}

func (c *RealClient) CurrentBranch(ctx context.Context, path string) (string, error) {
	return gitCmd(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) IsDirty(ctx context.Context, path string) (bool, error) {
	out, err := gitCmd(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (c *RealClient) WorktreeAdd(ctx context.Context, repoPath, worktreePath, branch string) error {
	_, err := gitCmd(ctx, repoPath, "worktree", "add", "-b", branch, worktreePath)
	return err
}

func (c *RealClient) WorktreeRemove(ctx context.Context, repoPath, worktreePath string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, worktreePath)
	_, err := gitCmd(ctx, repoPath, args...)
	return err
}

func (c *RealClient) WorktreeList(ctx context.Context, repoPath string) ([]WorktreeInfo, error) {
	out, err := gitCmd(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeListPorcelain(out), nil
}

func (c *RealClient) WorktreePrune(ctx context.Context, repoPath string) error {
	_, err := gitCmd(ctx, repoPath, "worktree", "prune")
	return err
}

func (c *RealClient) DeleteBranch(ctx context.Context, repoPath, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := gitCmd(ctx, repoPath, "branch", flag, branch)
	return err
}

// ParseWorktreeListPorcelain parses the output of `git worktree list --porcelain`.
func ParseWorktreeListPorcelain(output string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current WorktreeInfo

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.HEAD = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			branch := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(branch, "refs/heads/")
		case line == "":
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = WorktreeInfo{}
			}
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}
