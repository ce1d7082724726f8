package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"stagehand/internal/codec"
	"stagehand/internal/metrics"
	"stagehand/internal/repository"
)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db *sql.DB
}

var _ repository.Repository = (*Repository)(nil)

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func dsn(dbPath string) string {
	if dbPath == ":memory:" {
		return dbPath
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		room TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		data JSON NOT NULL,
		digest TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS journal (
		id TEXT PRIMARY KEY,
		room TEXT NOT NULL,
		seq INTEGER NOT NULL,
		data JSON NOT NULL,
		digest TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(room, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_journal_room_seq ON journal(room, seq);
	`

	_, err := r.db.Exec(schema)
	return err
}

// observe counts a journal operation by table and outcome
func observe(table string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Journal.WithLabelValues(table, result).Inc()
}

// SaveSnapshot replaces the stored snapshot of frame.Room
func (r *Repository) SaveSnapshot(ctx context.Context, frame *codec.Frame) (err error) {
	defer func() { observe("snapshots", err) }()

	if frame.Kind != codec.FrameSnapshot {
		return fmt.Errorf("save snapshot: frame kind %q", frame.Kind)
	}
	data, err := marshalRecord(frame.Data)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO snapshots (room, id, seq, data, digest, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room) DO UPDATE SET
			id = excluded.id,
			seq = excluded.seq,
			data = excluded.data,
			digest = excluded.digest,
			created_at = excluded.created_at,
			updated_at = CURRENT_TIMESTAMP
	`, frame.Room, frame.ID, int64(frame.Seq), data, frame.Digest, formatTime(frame.Time))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot of room or repository.ErrNotFound
func (r *Repository) LoadSnapshot(ctx context.Context, room string) (*codec.Frame, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, room, seq, data, digest, created_at
		FROM snapshots WHERE room = ?
	`, room)

	frame, err := scanFrame(row, codec.FrameSnapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", room, err)
	}
	return frame, nil
}

// AppendJournal stores a committed update frame
func (r *Repository) AppendJournal(ctx context.Context, frame *codec.Frame) (err error) {
	defer func() { observe("journal", err) }()

	if frame.Kind != codec.FrameUpdate {
		return fmt.Errorf("append journal: frame kind %q", frame.Kind)
	}
	data, err := marshalRecord(frame.Data)
	if err != nil {
		return fmt.Errorf("append journal: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO journal (id, room, seq, data, digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, frame.ID, frame.Room, int64(frame.Seq), data, frame.Digest, formatTime(frame.Time))
	if err != nil {
		return fmt.Errorf("append journal %s@%d: %w", frame.Room, frame.Seq, err)
	}
	return nil
}

// Journal returns update frames of room with seq > afterSeq in order.
// limit <= 0 returns all of them.
func (r *Repository) Journal(ctx context.Context, room string, afterSeq uint64, limit int) ([]*codec.Frame, error) {
	query := `
		SELECT id, room, seq, data, digest, created_at
		FROM journal WHERE room = ? AND seq > ?
		ORDER BY seq`
	args := []any{room, int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal %s: %w", room, err)
	}
	defer rows.Close()

	var frames []*codec.Frame
	for rows.Next() {
		frame, err := scanFrame(rows, codec.FrameUpdate)
		if err != nil {
			return nil, fmt.Errorf("journal %s: %w", room, err)
		}
		frames = append(frames, frame)
	}
	return frames, rows.Err()
}

// TrimJournal deletes entries of room with seq <= throughSeq
func (r *Repository) TrimJournal(ctx context.Context, room string, throughSeq uint64) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM journal WHERE room = ? AND seq <= ?", room, int64(throughSeq))
	observe("journal_trim", err)
	if err != nil {
		return 0, fmt.Errorf("trim journal %s: %w", room, err)
	}
	return result.RowsAffected()
}

// Rooms lists rooms that have a snapshot or journal entries
func (r *Repository) Rooms(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT room FROM snapshots
		UNION
		SELECT room FROM journal
		ORDER BY room
	`)
	if err != nil {
		return nil, fmt.Errorf("rooms: %w", err)
	}
	defer rows.Close()

	var rooms []string
	for rows.Next() {
		var room sql.NullString
		if err := rows.Scan(&room); err != nil {
			return nil, err
		}
		rooms = append(rooms, nullToString(room))
	}
	return rooms, rows.Err()
}
