// Package sqlite provides the SQLite-backed store of the interaction
// service.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/auditorium.live/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/answer"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/domain/content"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/storage"
	"github.com/louisbranch/auditorium.live/internal/services/interaction/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store implements storage.Store on SQLite. Writes that change answers
// notify the registered change listener after the transaction commits.
type Store struct {
	sqlDB    *sql.DB
	listener storage.ChangeListener
}

// Open opens the store at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SetChangeListener registers the listener notified after answer writes.
// It must be called before the store receives traffic.
func (s *Store) SetChangeListener(listener storage.ChangeListener) {
	s.listener = listener
}

func (s *Store) notify(ctx context.Context, event storage.ChangeEvent) {
	if s.listener == nil || len(event.Answers) == 0 {
		return
	}
	s.listener.AnswersChanged(ctx, event)
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// CreateRoom persists a room.
func (s *Store) CreateRoom(ctx context.Context, room storage.Room) error {
	if strings.TrimSpace(room.ID) == "" {
		return fmt.Errorf("room id is required")
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	_, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO rooms (id, name, feedback_locked, created_at) VALUES (?, ?, ?, ?)",
		room.ID, room.Name, boolToInt(room.FeedbackLocked), toMillis(room.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// GetRoom loads one room by id.
func (s *Store) GetRoom(ctx context.Context, id string) (storage.Room, error) {
	var (
		room      storage.Room
		locked    int
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, name, feedback_locked, created_at FROM rooms WHERE id = ?", id,
	).Scan(&room.ID, &room.Name, &locked, &createdAt)
	if err == sql.ErrNoRows {
		return storage.Room{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Room{}, fmt.Errorf("select room: %w", err)
	}
	room.FeedbackLocked = locked != 0
	room.CreatedAt = fromMillis(createdAt)
	return room, nil
}

// ListRooms returns every room, oldest first.
func (s *Store) ListRooms(ctx context.Context) ([]storage.Room, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT id, name, feedback_locked, created_at FROM rooms ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("select rooms: %w", err)
	}
	defer rows.Close()

	var rooms []storage.Room
	for rows.Next() {
		var (
			room      storage.Room
			locked    int
			createdAt int64
		)
		if err := rows.Scan(&room.ID, &room.Name, &locked, &createdAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room.FeedbackLocked = locked != 0
		room.CreatedAt = fromMillis(createdAt)
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

// DeleteRoom removes the room and everything it owns.
func (s *Store) DeleteRoom(ctx context.Context, id string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete room: %w", err)
	}
	// Cascade explicitly so deletion does not depend on the connection's
	// foreign_keys pragma.
	if _, err := tx.ExecContext(ctx, "DELETE FROM answers WHERE room_id = ?", id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete room answers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM contents WHERE room_id = ?", id); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete room contents: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete room: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete room rows affected: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return storage.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete room: %w", err)
	}
	return nil
}

// contentSpec is the persisted JSON form of the per-format content fields.
type contentSpec struct {
	Choice       *content.ChoiceSpec       `json:"choice,omitempty"`
	Scale        *content.ScaleSpec        `json:"scale,omitempty"`
	Wordcloud    *content.WordcloudSpec    `json:"wordcloud,omitempty"`
	Priorization *content.PriorizationSpec `json:"priorization,omitempty"`
}

// PutContent inserts or replaces a content item.
func (s *Store) PutContent(ctx context.Context, c content.Content) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("content id is required")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	specJSON, err := json.Marshal(contentSpec{
		Choice:       c.Choice,
		Scale:        c.Scale,
		Wordcloud:    c.Wordcloud,
		Priorization: c.Priorization,
	})
	if err != nil {
		return fmt.Errorf("encode content spec: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `INSERT INTO contents
    (id, room_id, format, round, abstentions_allowed, spec_json)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        format = excluded.format,
        round = excluded.round,
        abstentions_allowed = excluded.abstentions_allowed,
        spec_json = excluded.spec_json`,
		c.ID, c.RoomID, string(c.Format), c.CurrentRound(), boolToInt(c.AbstentionsAllowed), string(specJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert content: %w", err)
	}
	return nil
}

// GetContent loads one content item by id.
func (s *Store) GetContent(ctx context.Context, id string) (content.Content, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, room_id, format, round, abstentions_allowed, spec_json FROM contents WHERE id = ?", id)
	return scanContent(row)
}

// ListContents returns every content item of a room.
func (s *Store) ListContents(ctx context.Context, roomID string) ([]content.Content, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		"SELECT id, room_id, format, round, abstentions_allowed, spec_json FROM contents WHERE room_id = ? ORDER BY id", roomID)
	if err != nil {
		return nil, fmt.Errorf("select contents: %w", err)
	}
	defer rows.Close()

	var contents []content.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contents: %w", err)
	}
	return contents, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContent(row rowScanner) (content.Content, error) {
	var (
		c           content.Content
		format      string
		abstentions int
		specJSON    string
	)
	err := row.Scan(&c.ID, &c.RoomID, &format, &c.Round, &abstentions, &specJSON)
	if err == sql.ErrNoRows {
		return content.Content{}, storage.ErrNotFound
	}
	if err != nil {
		return content.Content{}, fmt.Errorf("scan content: %w", err)
	}
	c.Format = content.Format(format)
	c.AbstentionsAllowed = abstentions != 0

	var spec contentSpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return content.Content{}, fmt.Errorf("decode content spec: %w", err)
	}
	c.Choice = spec.Choice
	c.Scale = spec.Scale
	c.Wordcloud = spec.Wordcloud
	c.Priorization = spec.Priorization
	return c, nil
}

// answerPayload is the persisted JSON form of the format-specific answer
// fields.
type answerPayload struct {
	SelectedIndexes []int    `json:"selectedIndexes,omitempty"`
	Body            string   `json:"body,omitempty"`
	Texts           []string `json:"texts,omitempty"`
	Priorities      []int    `json:"priorities,omitempty"`
}

// UpsertAnswer stores the answer, replacing any earlier answer by the same
// creator for the same content and round, then notifies the change listener.
func (s *Store) UpsertAnswer(ctx context.Context, a answer.Answer) (bool, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert answer: %w", err)
	}
	created, stored, err := upsertAnswerInTx(ctx, tx, a)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert answer: %w", err)
	}
	kind := storage.OperationUpdated
	if created {
		kind = storage.OperationCreated
	}
	s.notify(ctx, storage.ChangeEvent{
		EntityType: storage.EntityTypeAnswer,
		Kind:       kind,
		Answers:    []answer.Answer{stored},
	})
	return created, nil
}

// ImportAnswers stores a batch of answers in one transaction and emits a
// single bulk change event for the whole batch. A failure anywhere in the
// batch rolls back every answer, so no rows land without their event.
func (s *Store) ImportAnswers(ctx context.Context, answers []answer.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import answers: %w", err)
	}
	stored := make([]answer.Answer, 0, len(answers))
	for _, a := range answers {
		_, result, err := upsertAnswerInTx(ctx, tx, a)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		stored = append(stored, result)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import answers: %w", err)
	}
	s.notify(ctx, storage.ChangeEvent{
		EntityType: storage.EntityTypeAnswer,
		Kind:       storage.OperationCreated,
		Answers:    stored,
	})
	return nil
}

func upsertAnswerInTx(ctx context.Context, tx *sql.Tx, a answer.Answer) (created bool, stored answer.Answer, err error) {
	if strings.TrimSpace(a.ContentID) == "" {
		return false, answer.Answer{}, fmt.Errorf("answer content id is required")
	}
	if strings.TrimSpace(a.CreatorID) == "" {
		return false, answer.Answer{}, fmt.Errorf("answer creator id is required")
	}
	if a.Round == 0 {
		a.Round = 1
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(answerPayload{
		SelectedIndexes: a.SelectedIndexes,
		Body:            a.Body,
		Texts:           a.Texts,
		Priorities:      a.Priorities,
	})
	if err != nil {
		return false, answer.Answer{}, fmt.Errorf("encode answer payload: %w", err)
	}

	var existingID string
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM answers WHERE content_id = ? AND creator_id = ? AND round = ?",
		a.ContentID, a.CreatorID, a.Round,
	).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		created = true
	case err != nil:
		return false, answer.Answer{}, fmt.Errorf("select existing answer: %w", err)
	default:
		// Re-submission keeps the original answer identity.
		a.ID = existingID
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO answers
    (id, content_id, room_id, creator_id, format, round, payload_json, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(content_id, creator_id, round) DO UPDATE SET
        format = excluded.format,
        payload_json = excluded.payload_json`,
		a.ID, a.ContentID, a.RoomID, a.CreatorID, string(a.Format), a.Round,
		string(payloadJSON), toMillis(a.CreatedAt),
	); err != nil {
		return false, answer.Answer{}, fmt.Errorf("upsert answer: %w", err)
	}
	return created, a, nil
}

// ListAnswers returns every answer of a content item for one round.
func (s *Store) ListAnswers(ctx context.Context, contentID string, round int) ([]answer.Answer, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT
    id, content_id, room_id, creator_id, format, round, payload_json, created_at
    FROM answers WHERE content_id = ? AND round = ? ORDER BY created_at, id`,
		contentID, round)
	if err != nil {
		return nil, fmt.Errorf("select answers: %w", err)
	}
	defer rows.Close()

	var answers []answer.Answer
	for rows.Next() {
		var (
			a           answer.Answer
			format      string
			payloadJSON string
			createdAt   int64
		)
		if err := rows.Scan(&a.ID, &a.ContentID, &a.RoomID, &a.CreatorID, &format, &a.Round, &payloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.Format = content.Format(format)
		a.CreatedAt = fromMillis(createdAt)

		var payload answerPayload
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("decode answer payload: %w", err)
		}
		a.SelectedIndexes = payload.SelectedIndexes
		a.Body = payload.Body
		a.Texts = payload.Texts
		a.Priorities = payload.Priorities
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return answers, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
