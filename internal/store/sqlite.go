package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/oklog/ulid/v2"

	"github.com/joescharf/voxpilot/internal/models"

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

	// SQLite only supports one concurrent writer; the mock backend and the
	// CLI may share a file, so all access goes through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewID generates a new ULID string.
func NewID() string {
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

// --- Prefs ---

func (s *SQLiteStore) GetPref(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM prefs WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get pref %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetPref(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set pref %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) DeletePrefs(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = "?"
		args[i] = k
	}
	query := fmt.Sprintf("DELETE FROM prefs WHERE key IN (%s)", strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete prefs: %w", err)
	}
	return nil
}

// --- Turns ---

func (s *SQLiteStore) RecordTurn(ctx context.Context, turn *models.Turn) error {
	if turn.ID == "" {
		turn.ID = NewID()
	}
	now := time.Now().UTC()
	if turn.StartedAt.IsZero() {
		turn.StartedAt = now
	}
	if turn.EndedAt.IsZero() {
		turn.EndedAt = now
	}
	if turn.Params == "" {
		turn.Params = "{}"
	}
	// Equal calls must compare equal in history, whatever the key order.
	canonical, err := jcs.Transform([]byte(turn.Params))
	if err != nil {
		return fmt.Errorf("record turn: params: %w", err)
	}
	turn.Params = string(canonical)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, utterance, tool_id, params, reply, outcome, message, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.Utterance, turn.ToolID, turn.Params, turn.Reply,
		string(turn.Outcome), turn.Message, turn.Error, turn.StartedAt, turn.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

const turnColumns = `id, session_id, utterance, tool_id, params, reply, outcome, message, error, started_at, ended_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (*models.Turn, error) {
	t := &models.Turn{}
	var outcome string
	if err := row.Scan(&t.ID, &t.SessionID, &t.Utterance, &t.ToolID, &t.Params, &t.Reply,
		&outcome, &t.Message, &t.Error, &t.StartedAt, &t.EndedAt); err != nil {
		return nil, err
	}
	t.Outcome = models.TurnOutcome(outcome)
	return t, nil
}

func (s *SQLiteStore) GetTurn(ctx context.Context, id string) (*models.Turn, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+turnColumns+" FROM turns WHERE id = ?", id)
	t, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("turn not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get turn: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, filter TurnListFilter) ([]*models.Turn, error) {
	query := "SELECT " + turnColumns + " FROM turns WHERE 1=1"
	var args []any

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}

	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*models.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// --- Developer tools ---

// rawOrEmpty keeps JSON columns valid when a tool omits a field.
func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func (s *SQLiteStore) CreateDevTool(ctx context.Context, tool *models.Tool) error {
	if tool.ToolID == "" {
		id, err := gonanoid.New(10)
		if err != nil {
			return fmt.Errorf("generate tool id: %w", err)
		}
		tool.ToolID = "tool-" + id
	}
	if tool.Type == "" {
		tool.Type = "http"
	}
	now := time.Now().UTC()
	tool.CreatedAt = &now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dev_tools (tool_id, name, type, description, endpoint, request_schema, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tool.ToolID, tool.Name, tool.Type, tool.Description,
		rawOrEmpty(tool.Endpoint), rawOrEmpty(tool.RequestSchema), now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("dev tool already exists: %s", tool.ToolID)
		}
		return fmt.Errorf("create dev tool: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDevTools(ctx context.Context) ([]*models.Tool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_id, name, type, description, endpoint, request_schema, created_at
		FROM dev_tools ORDER BY created_at, tool_id`)
	if err != nil {
		return nil, fmt.Errorf("list dev tools: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tools []*models.Tool
	for rows.Next() {
		t := &models.Tool{}
		var endpoint, schema string
		var createdAt time.Time
		if err := rows.Scan(&t.ToolID, &t.Name, &t.Type, &t.Description, &endpoint, &schema, &createdAt); err != nil {
			return nil, fmt.Errorf("scan dev tool: %w", err)
		}
		t.Endpoint = json.RawMessage(endpoint)
		t.RequestSchema = json.RawMessage(schema)
		t.CreatedAt = &createdAt
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

func (s *SQLiteStore) DeleteDevTool(ctx context.Context, toolID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM dev_tools WHERE tool_id = ?", toolID)
	if err != nil {
		return fmt.Errorf("delete dev tool: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("dev tool not found: %s", toolID)
	}
	return nil
}
