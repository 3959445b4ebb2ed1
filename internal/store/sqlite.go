// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message/attendant persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id           TEXT PRIMARY KEY,
			client_name  TEXT NOT NULL,
			client_phone TEXT NOT NULL,
			status       TEXT NOT NULL,
			attendant_id TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			CHECK (status IN ('waiting', 'active', 'closed', 'completed', 'sold', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			sender          TEXT NOT NULL,
			content         TEXT NOT NULL,
			type            TEXT NOT NULL DEFAULT 'text',
			file_url        TEXT,
			file_name       TEXT,
			file_size       INTEGER,
			created_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (sender IN ('client', 'attendant')),
			CHECK (type IN ('text', 'image', 'video', 'audio', 'file'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at, seq);

		CREATE TABLE IF NOT EXISTS attendants (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			online        INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_attendants_username ON attendants(username);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, client_name, client_phone, status, attendant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ClientName,
		conv.ClientPhone,
		conv.Status,
		conv.AttendantID,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "client", conv.ClientName)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, client_name, client_phone, status, attendant_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var attendantID sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.ClientName,
		&conv.ClientPhone,
		&conv.Status,
		&attendantID,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	if attendantID.Valid {
		conv.AttendantID = &attendantID.String
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// ListConversations returns summaries of all conversations ordered by most
// recent activity, each carrying its latest message (if any).
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*ConversationSummary, error) {
	query := `
		SELECT c.id, c.client_name, c.client_phone, c.status, c.updated_at,
		       COALESCE(m.content, ''), COALESCE(m.type, ''), COALESCE(m.created_at, '')
		FROM conversations c
		LEFT JOIN messages m ON m.seq = (
			SELECT seq FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, seq DESC
			LIMIT 1
		)
		ORDER BY c.updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		var updatedAtStr, lastMsgAtStr string

		if err := rows.Scan(&sum.ID, &sum.ClientName, &sum.ClientPhone, &sum.Status, &updatedAtStr, &sum.LastMessage, &sum.LastMessageType, &lastMsgAtStr); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		// Conversations with no messages yet fall back to updated_at
		tsStr := lastMsgAtStr
		if tsStr == "" {
			tsStr = updatedAtStr
		}
		sum.LastMessageTime, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last message time: %w", err)
		}

		summaries = append(summaries, &sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return summaries, nil
}

// SetConversationStatus updates a conversation's status and returns the
// updated row. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SetConversationStatus(ctx context.Context, id, status string) (*Conversation, error) {
	query := `
		UPDATE conversations
		SET status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return nil, fmt.Errorf("updating conversation status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("updated conversation status", "id", id, "status", status)
	return s.GetConversation(ctx, id)
}

// AssignConversation sets the attendant and moves the conversation to active.
// Last writer wins; no transition table is enforced.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AssignConversation(ctx context.Context, id, attendantID string) (*Conversation, error) {
	query := `
		UPDATE conversations
		SET attendant_id = ?, status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, attendantID, StatusActive, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return nil, fmt.Errorf("assigning conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("assigned conversation", "id", id, "attendant_id", attendantID)
	return s.GetConversation(ctx, id)
}

// TouchConversation bumps a conversation's updated_at timestamp.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return nil
}

// SaveMessage saves a message and fills in its insertion sequence.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	msgType := msg.Type
	if msgType == "" {
		msgType = MessageTypeText
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender, content, type, file_url, file_name, file_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Content,
		msgType,
		nullString(msg.FileURL),
		nullString(msg.FileName),
		nullInt64(msg.FileSize),
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message sequence: %w", err)
	}
	msg.Seq = seq
	msg.Type = msgType

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "type", msgType)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt64 returns nil for zero, otherwise the value
func nullInt64(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

// ListMessages retrieves all messages for a conversation in chronological
// order, with the insertion sequence breaking timestamp ties.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT seq, id, conversation_id, sender, content, type, file_url, file_name, file_size, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		var fileURL, fileName sql.NullString
		var fileSize sql.NullInt64

		if err := rows.Scan(&msg.Seq, &msg.ID, &msg.ConversationID, &msg.Sender, &msg.Content, &msg.Type, &fileURL, &fileName, &fileSize, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		if fileURL.Valid {
			msg.FileURL = fileURL.String
		}
		if fileName.Valid {
			msg.FileName = fileName.String
		}
		if fileSize.Valid {
			msg.FileSize = fileSize.Int64
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// CreateAttendant inserts a new attendant.
// Returns ErrDuplicateAttendant if the username is already taken.
func (s *SQLiteStore) CreateAttendant(ctx context.Context, att *Attendant) error {
	query := `
		INSERT INTO attendants (id, name, username, password_hash, online, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		att.ID,
		att.Name,
		att.Username,
		att.PasswordHash,
		boolToInt(att.Online),
		att.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateAttendant
		}
		return fmt.Errorf("inserting attendant: %w", err)
	}

	s.logger.Debug("created attendant", "id", att.ID, "username", att.Username)
	return nil
}

// GetAttendant retrieves an attendant by ID.
func (s *SQLiteStore) GetAttendant(ctx context.Context, id string) (*Attendant, error) {
	query := `
		SELECT id, name, username, password_hash, online, created_at
		FROM attendants
		WHERE id = ?
	`
	return s.scanAttendant(s.db.QueryRowContext(ctx, query, id))
}

// GetAttendantByUsername retrieves an attendant by username.
func (s *SQLiteStore) GetAttendantByUsername(ctx context.Context, username string) (*Attendant, error) {
	query := `
		SELECT id, name, username, password_hash, online, created_at
		FROM attendants
		WHERE username = ?
	`
	return s.scanAttendant(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanAttendant(row *sql.Row) (*Attendant, error) {
	var att Attendant
	var online int
	var createdAtStr string

	err := row.Scan(&att.ID, &att.Name, &att.Username, &att.PasswordHash, &online, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning attendant: %w", err)
	}

	att.Online = online != 0
	att.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &att, nil
}

// SetAttendantOnline updates an attendant's online flag.
// Returns ErrNotFound if the attendant doesn't exist.
func (s *SQLiteStore) SetAttendantOnline(ctx context.Context, id string, online bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE attendants SET online = ? WHERE id = ?`,
		boolToInt(online), id)
	if err != nil {
		return fmt.Errorf("updating attendant online flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ListLeads returns every conversation as a lead row with its message count,
// newest first by creation time.
func (s *SQLiteStore) ListLeads(ctx context.Context) ([]*Lead, error) {
	query := `
		SELECT c.id, c.client_name, c.client_phone, c.status, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying leads: %w", err)
	}
	defer rows.Close()

	var leads []*Lead
	for rows.Next() {
		var lead Lead
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&lead.ID, &lead.ClientName, &lead.ClientPhone, &lead.Status, &createdAtStr, &updatedAtStr, &lead.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning lead row: %w", err)
		}
		lead.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing lead created time: %w", err)
		}
		lead.LastMessageTime, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing lead updated time: %w", err)
		}

		leads = append(leads, &lead)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lead rows: %w", err)
	}
	return leads, nil
}

// Stats computes lead aggregates relative to now: total conversations,
// conversations opened today and this month, a per-day series for the last
// seven days, and counts grouped by status.
func (s *SQLiteStore) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&stats.TotalLeads); err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	count, err := s.countCreatedSince(ctx, today)
	if err != nil {
		return nil, err
	}
	stats.LeadsToday = count

	count, err = s.countCreatedSince(ctx, monthStart)
	if err != nil {
		return nil, err
	}
	stats.LeadsThisMonth = count

	for i := 6; i >= 0; i-- {
		dayStart := today.AddDate(0, 0, -i)
		dayEnd := dayStart.AddDate(0, 0, 1)

		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM conversations WHERE created_at >= ? AND created_at < ?`,
			dayStart.UTC().Format(time.RFC3339),
			dayEnd.UTC().Format(time.RFC3339),
		).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("counting conversations for day: %w", err)
		}

		stats.LastSevenDays = append(stats.LastSevenDays, DayCount{
			Date:  dayStart.Format("02/01"),
			Count: n,
		})
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM conversations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting conversations by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}

	return stats, nil
}

func (s *SQLiteStore) countCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE created_at >= ?`,
		since.UTC().Format(time.RFC3339),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting conversations since %s: %w", since, err)
	}
	return n, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
