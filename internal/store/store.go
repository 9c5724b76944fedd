// Package store persists the last snapshot published on each topic so a
// restarted organizer can seed its channel and delete stale ids.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/tablecast/internal/codec"
	"github.com/banshee-data/tablecast/internal/playfield"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoSnapshot is returned when a topic has never been saved.
var ErrNoSnapshot = errors.New("store: no snapshot for topic")

type Store struct {
	*sql.DB
	path string
}

// SnapshotInfo summarizes a stored snapshot without decoding it.
type SnapshotInfo struct {
	Topic     string    `json:"topic"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	FormCount int       `json:"form_count"`
	Publisher string    `json:"publisher"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open opens or creates the database at path and migrates it to the latest
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations. It is a no-op at the latest
// version.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty state. It returns 0
// when no migration has been applied.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// SaveSnapshot replaces the stored snapshot for topic.
func (s *Store) SaveSnapshot(ctx context.Context, topic, publisher string, pf *playfield.Playfield) error {
	payload, err := codec.EncodePlayfield(pf)
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO snapshots (topic, width, height, form_count, payload, publisher, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			width = excluded.width,
			height = excluded.height,
			form_count = excluded.form_count,
			payload = excluded.payload,
			publisher = excluded.publisher,
			updated_at = excluded.updated_at`,
		topic, pf.Width(), pf.Height(), pf.Len(), string(payload), publisher, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: save snapshot %q: %w", topic, err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot for topic, or ErrNoSnapshot.
func (s *Store) LoadSnapshot(ctx context.Context, topic string) (*playfield.Playfield, error) {
	var payload string
	err := s.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE topic = ?`, topic).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w %q", ErrNoSnapshot, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load snapshot %q: %w", topic, err)
	}
	pf, err := codec.DecodePlayfield([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("store: decode snapshot %q: %w", topic, err)
	}
	return pf, nil
}

// DeleteSnapshot removes the snapshot for topic. Deleting a missing topic
// is not an error.
func (s *Store) DeleteSnapshot(ctx context.Context, topic string) error {
	if _, err := s.ExecContext(ctx, `DELETE FROM snapshots WHERE topic = ?`, topic); err != nil {
		return fmt.Errorf("store: delete snapshot %q: %w", topic, err)
	}
	return nil
}

// Snapshots lists every stored snapshot ordered by topic.
func (s *Store) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT topic, width, height, form_count, publisher, updated_at
		FROM snapshots ORDER BY topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.Topic, &info.Width, &info.Height, &info.FormCount, &info.Publisher, &info.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Recorder saves published snapshots for one topic, skipping writes when
// nothing visible changed.
type Recorder struct {
	store     *Store
	topic     string
	publisher string
	last      *playfield.Playfield
}

// NewRecorder returns a Recorder for topic. publisher identifies the
// writing process in SnapshotInfo.
func (s *Store) NewRecorder(topic, publisher string) *Recorder {
	return &Recorder{store: s, topic: topic, publisher: publisher}
}

// Record stores pf if it differs from the last recorded snapshot.
func (r *Recorder) Record(ctx context.Context, pf *playfield.Playfield) error {
	if r.last != nil && r.last.Visible(pf) {
		return nil
	}
	if err := r.store.SaveSnapshot(ctx, r.topic, r.publisher, pf); err != nil {
		return err
	}
	r.last = pf.Clone()
	log.Printf("[Store] Recorded snapshot for %q with %d forms", r.topic, pf.Len())
	return nil
}
