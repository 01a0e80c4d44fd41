package reflection

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joescharf/autoloop/internal/locks"
	"github.com/joescharf/autoloop/internal/models"
)

// FindingsSink persists findings. The store satisfies it.
type FindingsSink interface {
	SaveFindings(sessionID string, findings []models.ReflectionFinding) error
}

// Logger receives best-effort warnings.
type Logger interface {
	Warning(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warning(format string, args ...interface{}) {}

// Analyzer runs transcript analysis guarded by the reflection lock and
// writes a per-session findings artifact.
type Analyzer struct {
	locks       *locks.Controller
	sink        FindingsSink
	artifactDir string
	logger      Logger
	now         func() time.Time
}

// NewAnalyzer returns an Analyzer writing artifacts under artifactDir.
// sink may be nil when no database persistence is wanted.
func NewAnalyzer(lc *locks.Controller, sink FindingsSink, artifactDir string, logger Logger) *Analyzer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Analyzer{
		locks:       lc,
		sink:        sink,
		artifactDir: artifactDir,
		logger:      logger,
		now:         time.Now,
	}
}

// artifact is the YAML document written per analyzed session.
type artifact struct {
	SessionID  string                     `yaml:"session_id"`
	AnalyzedAt time.Time                  `yaml:"analyzed_at"`
	Metrics    models.SessionMetrics      `yaml:"metrics"`
	Findings   []models.ReflectionFinding `yaml:"findings"`
}

// Run loads the transcript, analyzes it, and persists the results. The whole
// call is guarded by the reflection lock; a concurrent run returns
// ErrAnalysisInProgress. Every other failure degrades to empty findings —
// reflection must never escalate past itself.
func (a *Analyzer) Run(sessionID, transcriptPath string) ([]models.ReflectionFinding, error) {
	held, err := a.locks.IsHeld(locks.ReflectionLock)
	if err != nil {
		a.logger.Warning("reflection: lock check failed, skipping analysis: %v", err)
		return nil, nil
	}
	if held {
		return nil, ErrAnalysisInProgress
	}
	if err := a.locks.Acquire(locks.ReflectionLock); err != nil {
		a.logger.Warning("reflection: lock acquire failed, skipping analysis: %v", err)
		return nil, nil
	}
	defer func() {
		if err := a.locks.Release(locks.ReflectionLock); err != nil {
			a.logger.Warning("reflection: lock release failed: %v", err)
		}
	}()

	messages, err := LoadTranscript(transcriptPath)
	if err != nil {
		a.logger.Warning("reflection: transcript load failed for %s: %v", sessionID, err)
		return nil, nil
	}

	findings := Analyze(sessionID, messages)
	metrics := Metrics(messages)

	if a.sink != nil && len(findings) > 0 {
		if err := a.sink.SaveFindings(sessionID, findings); err != nil {
			a.logger.Warning("reflection: persist findings failed for %s: %v", sessionID, err)
		}
	}
	if err := a.writeArtifact(sessionID, metrics, findings); err != nil {
		a.logger.Warning("reflection: artifact write failed for %s: %v", sessionID, err)
	}
	return findings, nil
}

// RunPending consumes one pending-reflection marker, if any, and analyzes
// that session. Returns false when nothing was pending.
func (a *Analyzer) RunPending() ([]models.ReflectionFinding, bool, error) {
	p, ok, err := a.locks.TakePendingReflection()
	if err != nil {
		a.logger.Warning("reflection: pending marker read failed: %v", err)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	findings, err := a.Run(p.SessionID, p.TranscriptPath)
	return findings, true, err
}

func (a *Analyzer) writeArtifact(sessionID string, metrics models.SessionMetrics, findings []models.ReflectionFinding) error {
	if a.artifactDir == "" {
		return nil
	}
	if err := os.MkdirAll(a.artifactDir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	doc := artifact{
		SessionID:  sessionID,
		AnalyzedAt: a.now().UTC(),
		Metrics:    metrics,
		Findings:   findings,
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	path := filepath.Join(a.artifactDir, sessionID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write findings artifact: %w", err)
	}
	return nil
}

// ArtifactPath returns where Run writes the findings document for a session.
func (a *Analyzer) ArtifactPath(sessionID string) string {
	return filepath.Join(a.artifactDir, sessionID+".yaml")
}

// LoadTranscript reads a JSON-lines transcript, one message per line. Blank
// lines and unparseable lines are skipped rather than failing the whole
// analysis.
func LoadTranscript(path string) ([]models.Message, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	var messages []models.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return messages, nil
}
