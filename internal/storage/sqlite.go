package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"surveysched/internal/activation"
	"surveysched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Schedule bounds are stored as RFC3339Nano text; updated_at is unix
// nanoseconds.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const scheduleColumns = `id, is_recurring, is_active, start_date, end_date, daily_start_time, daily_end_time, updated_at`

func (s *sqliteStore) Create(ctx context.Context, id string) (activation.Schedule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return activation.Schedule{}, ErrEmptyID
	}
	now := stamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(id, is_recurring, is_active, updated_at) VALUES(?, 0, 0, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, now.UnixNano(),
	)
	if err != nil {
		return activation.Schedule{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return activation.Schedule{}, ErrExists
	}
	return activation.Schedule{ID: id, UpdatedAt: now}, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (activation.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return activation.Schedule{}, ErrNotFound
	}
	return sc, err
}

func (s *sqliteStore) List(ctx context.Context) ([]activation.Schedule, error) {
	return s.query(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY id`)
}

func (s *sqliteStore) ListRecurring(ctx context.Context) ([]activation.Schedule, error) {
	return s.query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE is_recurring = 1 ORDER BY id`)
}

func (s *sqliteStore) query(ctx context.Context, q string, args ...any) ([]activation.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []activation.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetBounds(ctx context.Context, id string, b activation.Bounds) (activation.Schedule, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules
		 SET is_recurring = 1, start_date = ?, end_date = ?, daily_start_time = ?, daily_end_time = ?, updated_at = ?
		 WHERE id = ?`,
		nullTime(b.StartDate), nullTime(b.EndDate), b.DailyStartTime, b.DailyEndTime, stamp().UnixNano(), id,
	)
	if err != nil {
		return activation.Schedule{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return activation.Schedule{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *sqliteStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), stamp().UnixNano(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (activation.Schedule, error) {
	var (
		sc                   activation.Schedule
		recurring, active    int
		start, end           sql.NullString
		dailyStart, dailyEnd sql.NullString
		updated              int64
	)
	if err := r.Scan(&sc.ID, &recurring, &active, &start, &end, &dailyStart, &dailyEnd, &updated); err != nil {
		return activation.Schedule{}, err
	}
	sc.IsRecurring = recurring != 0
	sc.IsActive = active != 0
	var err error
	if sc.StartDate, err = fromNullTime(start); err != nil {
		return activation.Schedule{}, fmt.Errorf("start_date: %w", err)
	}
	if sc.EndDate, err = fromNullTime(end); err != nil {
		return activation.Schedule{}, fmt.Errorf("end_date: %w", err)
	}
	sc.DailyStartTime = dailyStart.String
	sc.DailyEndTime = dailyEnd.String
	sc.UpdatedAt = time.Unix(0, updated).UTC()
	return sc, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatInstant(*t)
}

func fromNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseInstant(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
