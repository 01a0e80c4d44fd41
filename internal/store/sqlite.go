package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/autoloop/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = newULID()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, objective, max_turns, current_turn, state, summary, worktree_path, branch, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Objective, session.MaxTurns, session.CurrentTurn, string(session.State),
		session.Summary, session.WorktreePath, session.Branch, session.StartedAt, session.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session := &models.Session{}
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, objective, max_turns, current_turn, state, summary, worktree_path, branch, started_at, ended_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.Objective, &session.MaxTurns, &session.CurrentTurn, &state,
		&session.Summary, &session.WorktreePath, &session.Branch, &session.StartedAt, &session.EndedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	session.State = models.SessionState(state)
	return session, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	query := `SELECT id, objective, max_turns, current_turn, state, summary, worktree_path, branch, started_at, ended_at
		FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		var state string
		if err := rows.Scan(&session.ID, &session.Objective, &session.MaxTurns, &session.CurrentTurn, &state,
			&session.Summary, &session.WorktreePath, &session.Branch, &session.StartedAt, &session.EndedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.State = models.SessionState(state)
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET objective = ?, max_turns = ?, current_turn = ?, state = ?, summary = ?,
		worktree_path = ?, branch = ?, ended_at = ? WHERE id = ?`,
		session.Objective, session.MaxTurns, session.CurrentTurn, string(session.State), session.Summary,
		session.WorktreePath, session.Branch, session.EndedAt, session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// --- Turn log ---

func (s *SQLiteStore) AppendTurn(ctx context.Context, t *models.TurnRecord) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, turn_number, phase, raw_output, detected_completion, matched_phrase, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.TurnNumber, string(t.Phase), t.RawOutput, boolToInt(t.DetectedCompletion), t.MatchedPhrase, t.Error, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		t.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]*models.TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_number, phase, raw_output, detected_completion, matched_phrase, error, created_at
		FROM turns WHERE session_id = ? ORDER BY turn_number ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*models.TurnRecord
	for rows.Next() {
		t := &models.TurnRecord{}
		var phase string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnNumber, &phase, &t.RawOutput, &t.DetectedCompletion, &t.MatchedPhrase, &t.Error, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Phase = models.TurnPhase(phase)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) TurnCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM turns WHERE session_id = ?", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return count, nil
}

// --- Reflection findings ---

func (s *SQLiteStore) SaveFindings(ctx context.Context, sessionID string, findings []models.ReflectionFinding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin findings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for i := range findings {
		f := &findings[i]
		f.SessionID = sessionID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO findings (session_id, pattern_kind, identifier, count, suggestion, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, string(f.PatternKind), f.Identifier, f.Count, f.Suggestion, now,
		)
		if err != nil {
			return fmt.Errorf("save finding: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			f.ID = id
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListFindings(ctx context.Context, sessionID string) ([]*models.ReflectionFinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, pattern_kind, identifier, count, suggestion
		FROM findings WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []*models.ReflectionFinding
	for rows.Next() {
		f := &models.ReflectionFinding{}
		var kind string
		if err := rows.Scan(&f.ID, &f.SessionID, &kind, &f.Identifier, &f.Count, &f.Suggestion); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.PatternKind = models.PatternKind(kind)
		findings = append(findings, f)
	}
	return findings, rows.Err()
}
