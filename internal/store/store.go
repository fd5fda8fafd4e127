package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"emberchat/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the sqlite row store backing the development server. It holds
// the same tables the hosted backend exposes, so integration tests and
// local development run against identical row shapes.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the store at dbPath. Use ":memory:" for an
// ephemeral store in tests.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("invalid database path")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMatch inserts a match row. Missing id or timestamp are generated.
func (s *Store) CreateMatch(ctx context.Context, match *models.Match) error {
	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now().UTC()
	}
	if match.MatchType == "" {
		match.MatchType = "standard"
	}

	_, err := s.db.ExecContext(ctx, insertMatchQuery,
		match.ID, match.UserAID, match.UserBID, match.MatchType, match.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	return nil
}

// GetMatch returns the match row, or (nil, nil) when absent.
func (s *Store) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	var match models.Match
	err := s.db.QueryRowContext(ctx, selectMatchQuery, matchID).Scan(
		&match.ID, &match.UserAID, &match.UserBID, &match.MatchType, &match.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &match, nil
}

// InsertMessage inserts a message row, generating id and created_at when
// unset, and returns the stored row.
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, insertMessageQuery,
		msg.ID, msg.MatchID, msg.UserID, msg.CreatedAt, msg.Content,
		msg.MediaPath, mediaTypeValue(msg.MediaType), msg.MediaExpired, msg.MediaExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	return s.GetMessage(ctx, msg.ID)
}

// GetMessage returns one message row, or (nil, nil) when absent.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, selectMessageQuery, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns every message of a match, newest first.
func (s *Store) ListMessages(ctx context.Context, matchID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, selectMessagesByMatchQuery, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// UpdateMessages applies the patch to every row in ids and returns the
// updated rows. Only the patch's set fields are written. The write is a
// single statement so a batch receipt update stays one call end to end.
func (s *Store) UpdateMessages(ctx context.Context, ids []string, patch models.MessagePatch) ([]models.Message, error) {
	if len(ids) == 0 || patch.IsEmpty() {
		return nil, nil
	}

	var sets []string
	var args []interface{}
	appendSet := func(column string, t *time.Time) {
		if t != nil {
			sets = append(sets, column+" = ?")
			args = append(args, t)
		}
	}
	appendSet("delivered_at", patch.DeliveredAt)
	appendSet("read_at", patch.ReadAt)
	appendSet("media_viewed_at", patch.MediaViewedAt)
	appendSet("media_expires_at", patch.MediaExpiresAt)
	appendSet("deleted_at", patch.DeletedAt)

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf("UPDATE messages SET %s WHERE id IN (%s)",
		strings.Join(sets, ", "), placeholders)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update messages: %w", err)
	}

	updated := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			updated = append(updated, *msg)
		}
	}
	return updated, nil
}

// InsertDeletion records a per-user tombstone. Duplicate tombstones are
// ignored, so the returned row is always the stored one.
func (s *Store) InsertDeletion(ctx context.Context, userID, messageID string) (*models.MessageDeletion, error) {
	del := models.MessageDeletion{
		UserID:    userID,
		MessageID: messageID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, insertDeletionQuery, del.UserID, del.MessageID, del.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert deletion: %w", err)
	}
	return &del, nil
}

// ListDeletions returns every tombstone of a user, oldest first.
func (s *Store) ListDeletions(ctx context.Context, userID string) ([]models.MessageDeletion, error) {
	rows, err := s.db.QueryContext(ctx, selectDeletionsByUserQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deletions: %w", err)
	}
	defer rows.Close()

	var deletions []models.MessageDeletion
	for rows.Next() {
		var del models.MessageDeletion
		if err := rows.Scan(&del.UserID, &del.MessageID, &del.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deletion: %w", err)
		}
		deletions = append(deletions, del)
	}
	return deletions, rows.Err()
}

// SetFlag sets a feature flag's value.
func (s *Store) SetFlag(ctx context.Context, name string, enabled bool) error {
	if _, err := s.db.ExecContext(ctx, upsertFlagQuery, name, enabled); err != nil {
		return fmt.Errorf("failed to set flag: %w", err)
	}
	return nil
}

// GetFlag returns a flag's value; an unknown flag is disabled.
func (s *Store) GetFlag(ctx context.Context, name string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx, selectFlagQuery, name).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get flag: %w", err)
	}
	return enabled, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var mediaType sql.NullString
	var mediaExpiresAt, mediaViewedAt, deliveredAt, readAt, deletedAt sql.NullTime

	err := row.Scan(
		&msg.ID, &msg.MatchID, &msg.UserID, &msg.CreatedAt, &msg.Content,
		&msg.MediaPath, &mediaType, &msg.MediaExpired, &mediaExpiresAt,
		&mediaViewedAt, &deliveredAt, &readAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	if mediaType.Valid {
		mt := models.MediaType(mediaType.String)
		msg.MediaType = &mt
	}
	msg.MediaExpiresAt = nullTimePtr(mediaExpiresAt)
	msg.MediaViewedAt = nullTimePtr(mediaViewedAt)
	msg.DeliveredAt = nullTimePtr(deliveredAt)
	msg.ReadAt = nullTimePtr(readAt)
	msg.DeletedAt = nullTimePtr(deletedAt)
	return &msg, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func mediaTypeValue(mt *models.MediaType) interface{} {
	if mt == nil {
		return nil
	}
	return string(*mt)
}
