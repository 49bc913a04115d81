// Package recorder stores Thymio variable batches in SQLite, grouped into
// episodes, for offline analysis and training.
package recorder

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/teslashibe/go-thymio/pkg/thymio"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Errors returned by the recorder.
var (
	ErrUnknownEpisode = errors.New("recorder: unknown episode")
	ErrEpisodeEnded   = errors.New("recorder: episode already ended")
)

// Config holds recorder configuration.
type Config struct {
	// Path of the SQLite database file.
	Path string `yaml:"path" json:"path" mapstructure:"path"`

	// BusyTimeout for locked database retries.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout" mapstructure:"busy_timeout"`
}

// DefaultConfig returns a Config writing to thymio.db.
func DefaultConfig() Config {
	return Config{
		Path:        "thymio.db",
		BusyTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("recorder: path is required")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("recorder: busy_timeout must not be negative")
	}
	return nil
}

// Episode is one recording run against a node.
type Episode struct {
	ID        string     `json:"id"`
	Node      string     `json:"node"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	Samples   int        `json:"samples"`
}

// Sample is one recorded batch.
type Sample struct {
	Seq        int64            `json:"seq"`
	RecordedAt time.Time        `json:"recorded_at"`
	Variables  thymio.Variables `json:"variables"`
}

// Recorder writes episodes to SQLite.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open migrates the database at cfg.Path and opens it.
func Open(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "recorder")

	if err := migrateUp(cfg.Path); err != nil {
		return nil, fmt.Errorf("recorder: migrate: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d", cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recorder: open: %w", err)
	}

	logger.Info("recorder opened", "path", cfg.Path)
	return &Recorder{db: db, logger: logger, now: time.Now}, nil
}

func migrateUp(path string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+path+"?_foreign_keys=on")
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// StartEpisode creates a new episode for node and returns its ID.
func (r *Recorder) StartEpisode(ctx context.Context, node string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO episodes(id, node, started_at) VALUES (?, ?, ?)`,
		id, node, r.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("recorder: start episode: %w", err)
	}
	r.logger.Info("episode started", "episode", id, "node", node)
	return id, nil
}

// EndEpisode closes an episode with an outcome label.
func (r *Recorder) EndEpisode(ctx context.Context, id, outcome string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE episodes SET ended_at = ?, outcome = ? WHERE id = ? AND ended_at IS NULL`,
		r.now().UnixMilli(), outcome, id)
	if err != nil {
		return fmt.Errorf("recorder: end episode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.episodeError(ctx, id)
	}
	r.logger.Info("episode ended", "episode", id, "outcome", outcome)
	return nil
}

// Record stores one batch in a single transaction.
func (r *Recorder) Record(ctx context.Context, episode string, batch thymio.Variables) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recorder: record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ended sql.NullInt64
	var seq int64
	err = tx.QueryRowContext(ctx, `
	SELECT e.ended_at, COALESCE((SELECT MAX(seq) FROM samples WHERE episode_id = e.id), 0) + 1
	FROM episodes e WHERE e.id = ?`, episode).Scan(&ended, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownEpisode, episode)
	}
	if err != nil {
		return fmt.Errorf("recorder: record: %w", err)
	}
	if ended.Valid {
		return fmt.Errorf("%w: %s", ErrEpisodeEnded, episode)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO samples(episode_id, seq, recorded_at, variable, value_json) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("recorder: record: %w", err)
	}
	defer stmt.Close()

	at := r.now().UnixMilli()
	for name, values := range batch {
		raw, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("recorder: encode %s: %w", name, err)
		}
		if _, err := stmt.ExecContext(ctx, episode, seq, at, name, string(raw)); err != nil {
			return fmt.Errorf("recorder: record: %w", err)
		}
	}
	return tx.Commit()
}

// Episodes lists episodes, newest first.
func (r *Recorder) Episodes(ctx context.Context) ([]Episode, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT e.id, e.node, e.started_at, e.ended_at, e.outcome,
	       (SELECT COUNT(DISTINCT seq) FROM samples s WHERE s.episode_id = e.id)
	FROM episodes e ORDER BY e.started_at DESC, e.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("recorder: episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var (
			e       Episode
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Node, &started, &ended, &e.Outcome, &e.Samples); err != nil {
			return nil, fmt.Errorf("recorder: episodes: %w", err)
		}
		e.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			e.EndedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Samples returns the batches of an episode in recording order.
func (r *Recorder) Samples(ctx context.Context, episode string) ([]Sample, error) {
	if err := r.episodeExists(ctx, episode); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT seq, recorded_at, variable, value_json FROM samples
	WHERE episode_id = ? ORDER BY seq, id`, episode)
	if err != nil {
		return nil, fmt.Errorf("recorder: samples: %w", err)
	}
	defer rows.Close()

	bySeq := make(map[int64]*Sample)
	for rows.Next() {
		var (
			seq      int64
			at       int64
			name     string
			valueRaw string
		)
		if err := rows.Scan(&seq, &at, &name, &valueRaw); err != nil {
			return nil, fmt.Errorf("recorder: samples: %w", err)
		}
		s, ok := bySeq[seq]
		if !ok {
			s = &Sample{Seq: seq, RecordedAt: time.UnixMilli(at), Variables: make(thymio.Variables)}
			bySeq[seq] = s
		}
		var values []float64
		if err := json.Unmarshal([]byte(valueRaw), &values); err != nil {
			return nil, fmt.Errorf("recorder: decode %s: %w", name, err)
		}
		s.Variables[name] = values
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Sample, 0, len(bySeq))
	for _, s := range bySeq {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *Recorder) episodeExists(ctx context.Context, id string) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM episodes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownEpisode, id)
	}
	return err
}

// episodeError explains why an episode could not be updated.
func (r *Recorder) episodeError(ctx context.Context, id string) error {
	if err := r.episodeExists(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrEpisodeEnded, id)
}

// Attach records every batch the facade receives into episode.
func (r *Recorder) Attach(t *thymio.Thymio, episode string) *thymio.Subscription {
	return t.RegisterCallback(func(_ thymio.Node, vars thymio.Variables) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Record(ctx, episode, vars); err != nil {
			r.logger.Warn("failed to record batch", "episode", episode, "error", err)
		}
	})
}
