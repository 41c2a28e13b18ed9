package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

const (
	keySessionToken = "session.token"
	keySessionUser  = "session.user"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS friend_requests (
	id          TEXT PRIMARY KEY,
	sender_id   TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	sender_json TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_friend_requests_created ON friend_requests(created_at);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, nil)
}

// NewWithSetup opens the database, applies the schema and then runs setup.
// Tests use it with ":memory:" to seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== SessionStore implementation ====

// LoadSession returns the persisted token and user identity.
func (s *SQLiteStore) LoadSession(ctx context.Context) (string, *store.UserIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key IN (?, ?)`, keySessionToken, keySessionUser)
	if err != nil {
		return "", nil, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 2)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return "", nil, fmt.Errorf("scan session: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate session: %w", err)
	}

	token, userJSON := values[keySessionToken], values[keySessionUser]
	if token == "" || userJSON == "" {
		return "", nil, store.ErrNotFound
	}

	var user store.UserIdentity
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return "", nil, fmt.Errorf("decode session user: %w", err)
	}
	return token, &user, nil
}

// SaveSession writes token and user in a single transaction.
func (s *SQLiteStore) SaveSession(ctx context.Context, token string, user store.UserIdentity) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode session user: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, query, keySessionToken, token, now); err != nil {
		return fmt.Errorf("save session token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, keySessionUser, string(userJSON), now); err != nil {
		return fmt.Errorf("save session user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// ClearSession removes the persisted token and user.
func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (?, ?)`, keySessionToken, keySessionUser); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// ==== FriendRequestStore implementation ====

// UpsertFriendRequest inserts a request or advances a pending one.
func (s *SQLiteStore) UpsertFriendRequest(ctx context.Context, req *store.FriendRequest) error {
	if req == nil || req.ID == "" {
		return errors.New("friend request id is required")
	}
	senderJSON, err := json.Marshal(req.Sender)
	if err != nil {
		return fmt.Errorf("encode sender: %w", err)
	}
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO friend_requests (id, sender_id, receiver_id, status, sender_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE friend_requests.status = 'pending'
	`
	_, err = s.db.ExecContext(ctx, query,
		req.ID,
		req.SenderID,
		req.ReceiverID,
		string(req.Status),
		string(senderJSON),
		createdAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert friend request: %w", err)
	}
	return nil
}

// GetFriendRequest retrieves a friend request by ID.
func (s *SQLiteStore) GetFriendRequest(ctx context.Context, id string) (*store.FriendRequest, error) {
	query := `
		SELECT id, sender_id, receiver_id, status, sender_json, created_at
		FROM friend_requests
		WHERE id = ?
	`
	req, err := scanFriendRequest(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("friend request %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query friend request: %w", err)
	}
	return req, nil
}

// ListFriendRequests returns all friend requests, oldest first.
func (s *SQLiteStore) ListFriendRequests(ctx context.Context) ([]*store.FriendRequest, error) {
	query := `
		SELECT id, sender_id, receiver_id, status, sender_json, created_at
		FROM friend_requests
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	var out []*store.FriendRequest
	for rows.Next() {
		req, err := scanFriendRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFriendRequest(row rowScanner) (*store.FriendRequest, error) {
	var (
		req        store.FriendRequest
		status     string
		senderJSON string
	)
	if err := row.Scan(&req.ID, &req.SenderID, &req.ReceiverID, &status, &senderJSON, &req.CreatedAt); err != nil {
		return nil, err
	}
	req.Status = store.FriendRequestStatus(status)
	if err := json.Unmarshal([]byte(senderJSON), &req.Sender); err != nil {
		return nil, fmt.Errorf("decode sender: %w", err)
	}
	return &req, nil
}
