package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/haasonsaas/chatline/pkg/models"
)

// SQLiteStore keeps messages in a SQLite database. Parts are stored as a
// JSON array in a single column.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens the database at path, creating it if needed, and applies
// pending migrations. An empty path opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return newSQLiteStore(db), nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) Append(ctx context.Context, msg models.Message) error {
	if err := checkMessage(msg); err != nil {
		return err
	}
	parts, err := encodeParts(msg.Parts)
	if err != nil {
		return err
	}
	created := msg.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, parts, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), parts, created.UnixNano(), s.now().UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, msg.ID)
		}
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, parts, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) Update(ctx context.Context, msg models.Message) error {
	parts, err := encodeParts(msg.Parts)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET role = ?, parts = ?, updated_at = ? WHERE conversation_id = ? AND id = ?`,
		string(msg.Role), parts, s.now().UnixNano(), msg.ConversationID, msg.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, msg.ID)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, parts, created_at FROM messages WHERE conversation_id = ? AND id = ?`,
		conversationID, messageID,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	return msg, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (models.Message, error) {
	var (
		msg     models.Message
		role    string
		parts   string
		created int64
	)
	if err := row.Scan(&msg.ID, &msg.ConversationID, &role, &parts, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return msg, err
		}
		return msg, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Role = models.Role(role)
	msg.CreatedAt = time.Unix(0, created).UTC()

	decoded, err := decodeParts(parts)
	if err != nil {
		return msg, fmt.Errorf("message %s: %w", msg.ID, err)
	}
	msg.Parts = decoded
	return msg, nil
}

func encodeParts(parts []models.Part) (string, error) {
	if parts == nil {
		parts = []models.Part{}
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("failed to marshal parts: %w", err)
	}
	return string(data), nil
}

func decodeParts(data string) ([]models.Part, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parts: %w", err)
	}
	parts := make([]models.Part, 0, len(raw))
	for i, r := range raw {
		part, err := models.DecodePart(r)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
