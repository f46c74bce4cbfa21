// SQLite-backed Store implementation.
// Uses modernc.org/sqlite (pure Go, no cgo) with WAL mode so a single-node
// deployment survives restarts without an external database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tasknest/tasknest/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at dbPath and
// initializes the schema.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency between chat turns and CRUD calls.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("SQLite store opened")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		completed INTEGER NOT NULL DEFAULT 0,
		due_date INTEGER,
		priority TEXT NOT NULL DEFAULT 'medium',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, created_at);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_message_at INTEGER,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		metadata_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);

	CREATE TABLE IF NOT EXISTS conversation_states (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL UNIQUE REFERENCES conversations(id),
		state_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Timestamps are stored as unix nanoseconds so message ordering keeps
// sub-second resolution.
func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }

// ── Task Store ──────────────────────────────────────────────

func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.Task) error {
	t := *task
	syncCompletion(&t)

	var due interface{}
	if t.DueDate != nil {
		due = toUnix(*t.DueDate)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, owner_id, title, description, status, completed, due_date, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Title, t.Description, string(t.Status), boolInt(t.Completed),
		due, string(t.Priority), toUnix(t.CreatedAt), toUnix(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, ownerID string, filter StatusFilter) ([]models.Task, error) {
	query := `
		SELECT id, owner_id, title, description, status, completed, due_date, priority, created_at, updated_at
		FROM tasks WHERE owner_id = ?`
	args := []interface{}{ownerID}
	switch filter {
	case FilterCompleted:
		query += ` AND status = 'completed'`
	case FilterPending:
		query += ` AND status = 'pending'`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, description, status, completed, due_date, priority, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	return t, err
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, upd models.TaskUpdate) (*models.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	applyUpdate(t, upd)

	var due interface{}
	if t.DueDate != nil {
		due = toUnix(*t.DueDate)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, status = ?, completed = ?, due_date = ?, priority = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, string(t.Status), boolInt(t.Completed), due, string(t.Priority), toUnix(t.UpdatedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return &ErrNotFound{Entity: "task", Key: id}
	}
	return nil
}

func (s *SQLiteStore) SetTaskCompleted(ctx context.Context, id string, completed bool) (*models.Task, error) {
	status := models.TaskStatusPending
	if completed {
		status = models.TaskStatusCompleted
	}
	now := time.Now().UTC()
	// Status and the derived boolean change in the same statement so the two
	// representations can never diverge.
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed = ?, updated_at = ? WHERE id = ?`,
		string(status), boolInt(completed), toUnix(now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("set task completed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, &ErrNotFound{Entity: "task", Key: id}
	}
	return s.GetTask(ctx, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var description sql.NullString
	var completed int
	var due sql.NullInt64
	var createdAt, updatedAt int64
	var status, priority string

	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &description, &status, &completed,
		&due, &priority, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Status = models.TaskStatus(status)
	t.Completed = completed != 0
	t.Priority = models.TaskPriority(priority)
	if due.Valid {
		d := fromUnix(due.Int64)
		t.DueDate = &d
	}
	t.CreatedAt = fromUnix(createdAt)
	t.UpdatedAt = fromUnix(updatedAt)
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ── Conversation Store ──────────────────────────────────────

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	var lastMsg interface{}
	if conv.LastMessageAt != nil {
		lastMsg = toUnix(*conv.LastMessageAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, created_at, updated_at, last_message_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OwnerID, conv.Title, toUnix(conv.CreatedAt), toUnix(conv.UpdatedAt), lastMsg, boolInt(conv.IsActive),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at, last_message_at, is_active
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	return c, err
}

func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string, activeOnly bool) ([]models.Conversation, error) {
	query := `
		SELECT id, owner_id, title, created_at, updated_at, last_message_at, is_active
		FROM conversations WHERE owner_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	var lastMsg interface{}
	if conv.LastMessageAt != nil {
		lastMsg = toUnix(*conv.LastMessageAt)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET title = ?, updated_at = ?, last_message_at = ?, is_active = ?
		WHERE id = ?`,
		conv.Title, toUnix(conv.UpdatedAt), lastMsg, boolInt(conv.IsActive), conv.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return &ErrNotFound{Entity: "conversation", Key: conv.ID}
	}
	return nil
}

func (s *SQLiteStore) DeactivateConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET is_active = 0, updated_at = ? WHERE id = ?`,
		toUnix(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("deactivate conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return &ErrNotFound{Entity: "conversation", Key: id}
	}
	return nil
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var c models.Conversation
	var createdAt, updatedAt int64
	var lastMsg sql.NullInt64
	var active int

	err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &createdAt, &updatedAt, &lastMsg, &active)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = fromUnix(createdAt)
	c.UpdatedAt = fromUnix(updatedAt)
	if lastMsg.Valid {
		l := fromUnix(lastMsg.Int64)
		c.LastMessageAt = &l
	}
	c.IsActive = active != 0
	return &c, nil
}

func (s *SQLiteStore) PurgeInactiveConversations(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge transaction: %w", err)
	}
	defer tx.Rollback()

	where := `conversation_id IN (SELECT id FROM conversations WHERE is_active = 0 AND updated_at < ?)`
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE `+where, toUnix(cutoff)); err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_states WHERE `+where, toUnix(cutoff)); err != nil {
		return 0, fmt.Errorf("purge conversation states: %w", err)
	}
	result, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE is_active = 0 AND updated_at < ?`, toUnix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge conversations: %w", err)
	}
	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit purge: %w", err)
	}
	return int(purged), nil
}

// ── Message Store ───────────────────────────────────────────

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if _, err := s.GetConversation(ctx, msg.ConversationID); err != nil {
		return err
	}

	var metadata interface{}
	if msg.Metadata != nil {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
		metadata = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, timestamp, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, toUnix(msg.Timestamp), metadata,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, order MessageOrder) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, timestamp, metadata_json
		FROM messages WHERE conversation_id = ? ORDER BY timestamp `
	if order == OrderDesc {
		query += `DESC, id DESC`
	} else {
		query += `ASC, id ASC`
	}
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	msgs := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		var role string
		var ts int64
		var metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &ts, &metadata); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = models.MessageRole(role)
		m.Timestamp = fromUnix(ts)
		if metadata.Valid && metadata.String != "" {
			// Metadata is free-form; a decode failure just leaves it empty.
			if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
				log.Warn().Err(err).Str("message_id", m.ID).Msg("Undecodable message metadata")
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ── Conversation State Store ────────────────────────────────

func (s *SQLiteStore) GetConversationState(ctx context.Context, conversationID string) (*models.ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, state_json, version
		FROM conversation_states WHERE conversation_id = ?`, conversationID)

	var st models.ConversationState
	var stateJSON string
	err := row.Scan(&st.ID, &st.ConversationID, &stateJSON, &st.Version)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Entity: "conversation state", Key: conversationID}
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation state: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &st.State); err != nil {
		return nil, fmt.Errorf("decode conversation state: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) PutConversationState(ctx context.Context, state *models.ConversationState) error {
	data, err := json.Marshal(state.State)
	if err != nil {
		return fmt.Errorf("marshal conversation state: %w", err)
	}

	// Optimistic concurrency: the version predicate makes a stale write
	// affect zero rows, which is reported as a conflict.
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversation_states SET state_json = ?, version = version + 1
		WHERE conversation_id = ? AND version = ?`,
		string(data), state.ConversationID, state.Version,
	)
	if err != nil {
		return fmt.Errorf("update conversation state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// No row updated: either the record is new, or the version is stale.
	existing, err := s.GetConversationState(ctx, state.ConversationID)
	if err == nil {
		return &ErrVersionConflict{
			ConversationID: state.ConversationID,
			Expected:       state.Version,
			Actual:         existing.Version,
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_states (id, conversation_id, state_json, version)
		VALUES (?, ?, ?, ?)`,
		state.ID, state.ConversationID, string(data), state.Version+1,
	)
	if err != nil {
		// Two first-writers can both miss the UPDATE; the loser's insert
		// trips the unique conversation_id constraint. Re-reading tells
		// a lost race apart from a genuine insert failure.
		if current, getErr := s.GetConversationState(ctx, state.ConversationID); getErr == nil {
			return &ErrVersionConflict{
				ConversationID: state.ConversationID,
				Expected:       state.Version,
				Actual:         current.Version,
			}
		}
		return fmt.Errorf("insert conversation state: %w", err)
	}
	return nil
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
