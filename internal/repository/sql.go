package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"outreach-agent/internal/domain"
)

// Dialect selects placeholder style and column types for SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore persists records in PostgreSQL (lib/pq) or SQLite (modernc).
// Timestamps are stored as RFC3339 text in both dialects.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenSQL opens a database for the dialect, checks connectivity and applies
// the schema.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: dsn must not be empty")
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping %s: %w", dialect, err)
	}
	store, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database and creates the tables if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("repository: unsupported dialect %q", dialect)
	}
	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("repository: init schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	markerType := "INTEGER"
	if s.dialect == DialectPostgres {
		markerType = "BIGINT"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			thread_id TEXT PRIMARY KEY,
			step INTEGER NOT NULL,
			status TEXT NOT NULL,
			recipient_email TEXT NOT NULL DEFAULT '',
			recipient_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_inbound_id TEXT NOT NULL DEFAULT '',
			last_inbound_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			mailbox TEXT PRIMARY KEY,
			marker ` + markerType + ` NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transcript (
			thread_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			recipient_email TEXT NOT NULL DEFAULT '',
			recipient_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (thread_id, message_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, threadID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT thread_id, step, status, recipient_email, recipient_name, created_at, updated_at,
			last_inbound_id, last_inbound_at
		FROM conversations
		WHERE thread_id = ?`), threadID)

	var (
		conv                     domain.Conversation
		status                   string
		created, updated, lastAt string
	)
	err := row.Scan(&conv.ThreadID, &conv.Step, &status, &conv.Recipient.Email, &conv.Recipient.Name, &created, &updated,
		&conv.LastInboundID, &lastAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: Get: %w", err)
	}
	conv.Status = domain.Status(status)
	if conv.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("repository: Get parse created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("repository: Get parse updated_at: %w", err)
	}
	if conv.LastInboundAt, err = parseTime(lastAt); err != nil {
		return nil, fmt.Errorf("repository: Get parse last_inbound_at: %w", err)
	}
	return &conv, nil
}

func (s *SQLStore) Upsert(ctx context.Context, conv domain.Conversation) error {
	if strings.TrimSpace(conv.ThreadID) == "" {
		return errors.New("repository: Upsert: thread id is required")
	}
	updated := conv.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	created := conv.CreatedAt
	if created.IsZero() {
		created = updated
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (thread_id, step, status, recipient_email, recipient_name, created_at, updated_at, last_inbound_id, last_inbound_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET
			step = excluded.step,
			status = excluded.status,
			updated_at = excluded.updated_at,
			last_inbound_id = CASE WHEN excluded.last_inbound_id = '' THEN conversations.last_inbound_id ELSE excluded.last_inbound_id END,
			last_inbound_at = CASE WHEN excluded.last_inbound_id = '' THEN conversations.last_inbound_at ELSE excluded.last_inbound_at END,
			recipient_email = CASE WHEN conversations.recipient_email = '' THEN excluded.recipient_email ELSE conversations.recipient_email END,
			recipient_name = CASE WHEN conversations.recipient_email = '' THEN excluded.recipient_name ELSE conversations.recipient_name END`),
		conv.ThreadID,
		conv.Step,
		string(conv.Status),
		conv.Recipient.Email,
		conv.Recipient.Name,
		formatTime(created),
		formatTime(updated),
		conv.LastInboundID,
		formatTime(conv.LastInboundAt),
	)
	if err != nil {
		return fmt.Errorf("repository: Upsert: %w", err)
	}
	return nil
}

func (s *SQLStore) GetCheckpoint(ctx context.Context, mailbox string) (uint64, bool, error) {
	var marker int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT marker FROM checkpoints WHERE mailbox = ?`), normalizeMailbox(mailbox)).Scan(&marker)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("repository: GetCheckpoint: %w", err)
	}
	if marker < 0 {
		return 0, false, fmt.Errorf("repository: GetCheckpoint: negative marker %d", marker)
	}
	return uint64(marker), true, nil
}

// SaveCheckpoint relies on the conflict clause's WHERE to keep the marker
// monotonic under concurrent writers.
func (s *SQLStore) SaveCheckpoint(ctx context.Context, mailbox string, marker uint64) error {
	if marker > math.MaxInt64 {
		return fmt.Errorf("repository: SaveCheckpoint: marker %d overflows BIGINT", marker)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO checkpoints (mailbox, marker, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (mailbox) DO UPDATE SET
			marker = excluded.marker,
			updated_at = excluded.updated_at
		WHERE checkpoints.marker < excluded.marker`),
		normalizeMailbox(mailbox),
		int64(marker),
		formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("repository: SaveCheckpoint: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, entry domain.TranscriptEntry) error {
	if entry.ThreadID == "" || entry.MessageID == "" {
		return errors.New("repository: AppendMessage: thread id and message id are required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO transcript (thread_id, message_id, sender, subject, body, recipient_email, recipient_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id, message_id) DO UPDATE SET
			sender = excluded.sender,
			subject = excluded.subject,
			body = excluded.body`),
		entry.ThreadID,
		entry.MessageID,
		entry.Sender,
		entry.Subject,
		entry.Body,
		entry.Recipient.Email,
		entry.Recipient.Name,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

func (s *SQLStore) ListTranscript(ctx context.Context, threadID string, limit int) ([]domain.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT thread_id, message_id, sender, subject, body, recipient_email, recipient_name, created_at
		FROM transcript
		WHERE thread_id = ?
		ORDER BY created_at ASC, message_id ASC`), threadID)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTranscript: %w", err)
	}
	defer rows.Close()

	var entries []domain.TranscriptEntry
	for rows.Next() {
		var (
			e       domain.TranscriptEntry
			created string
		)
		if err := rows.Scan(&e.ThreadID, &e.MessageID, &e.Sender, &e.Subject, &e.Body, &e.Recipient.Email, &e.Recipient.Name, &created); err != nil {
			return nil, fmt.Errorf("repository: ListTranscript scan: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("repository: ListTranscript parse created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListTranscript rows: %w", err)
	}
	return lastN(entries, limit), nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
