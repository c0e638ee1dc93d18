package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"surveysched/internal/activation"
	"surveysched/pkg/logx"
)

// redisStore keeps one hash per schedule:
//
//	<prefix>:schedule:<id>         hash of schedule fields
//	<prefix>:schedules             set of all ids
//	<prefix>:schedules:recurring   set of recurring ids
//
// Mutations run as Lua scripts so the existence check and the write are one
// atomic step.
type redisStore struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'is_recurring', '0', 'is_active', '0', 'updated_at', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[1])
return 1`)

	boundsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'is_recurring', '1',
  'start_date', ARGV[2], 'end_date', ARGV[3],
  'daily_start_time', ARGV[4], 'daily_end_time', ARGV[5],
  'updated_at', ARGV[6])
redis.call('SADD', KEYS[2], ARGV[1])
return 1`)

	activeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'is_active', ARGV[1], 'updated_at', ARGV[2])
return 1`)
)

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	prefix := strings.TrimSpace(cfg.Redis.Prefix)
	if prefix == "" {
		prefix = "surveysched"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Debug("redis store opened", logx.String("addr", addr), logx.String("prefix", prefix))
	return &redisStore{rdb: rdb, prefix: prefix, log: log}, nil
}

func (s *redisStore) key(id string) string { return s.prefix + ":schedule:" + id }
func (s *redisStore) allKey() string { return s.prefix + ":schedules" }
func (s *redisStore) recurringKey() string { return s.prefix + ":schedules:recurring" }

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) Create(ctx context.Context, id string) (activation.Schedule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return activation.Schedule{}, ErrEmptyID
	}
	now := stamp()
	ok, err := createScript.Run(ctx, s.rdb, []string{s.key(id), s.allKey()}, id, now.UnixNano()).Int()
	if err != nil {
		return activation.Schedule{}, err
	}
	if ok == 0 {
		return activation.Schedule{}, ErrExists
	}
	return activation.Schedule{ID: id, UpdatedAt: now}, nil
}

func (s *redisStore) Get(ctx context.Context, id string) (activation.Schedule, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return activation.Schedule{}, err
	}
	if len(m) == 0 {
		return activation.Schedule{}, ErrNotFound
	}
	return decodeHash(id, m)
}

func (s *redisStore) List(ctx context.Context) ([]activation.Schedule, error) {
	return s.listSet(ctx, s.allKey())
}

func (s *redisStore) ListRecurring(ctx context.Context) ([]activation.Schedule, error) {
	out, err := s.listSet(ctx, s.recurringKey())
	if err != nil {
		return nil, err
	}
	// The recurring set is only ever added to; filter on the record itself.
	n := 0
	for _, sc := range out {
		if sc.IsRecurring {
			out[n] = sc
			n++
		}
	}
	return out[:n], nil
}

func (s *redisStore) listSet(ctx context.Context, set string) ([]activation.Schedule, error) {
	ids, err := s.rdb.SMembers(ctx, set).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []activation.Schedule{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]activation.Schedule, 0, len(ids))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		sc, err := decodeHash(ids[i], m)
		if err != nil {
			s.log.Warn("skipping undecodable schedule", logx.String("schedule", ids[i]), logx.Err(err))
			continue
		}
		out = append(out, sc)
	}
	sortByID(out)
	return out, nil
}

func (s *redisStore) SetBounds(ctx context.Context, id string, b activation.Bounds) (activation.Schedule, error) {
	ok, err := boundsScript.Run(ctx, s.rdb, []string{s.key(id), s.recurringKey()},
		id, encodeTime(b.StartDate), encodeTime(b.EndDate), b.DailyStartTime, b.DailyEndTime, stamp().UnixNano(),
	).Int()
	if err != nil {
		return activation.Schedule{}, err
	}
	if ok == 0 {
		return activation.Schedule{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *redisStore) SetActive(ctx context.Context, id string, active bool) error {
	ok, err := activeScript.Run(ctx, s.rdb, []string{s.key(id)}, boolInt(active), stamp().UnixNano()).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatInstant(*t)
}

func decodeTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := parseInstant(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeHash(id string, m map[string]string) (activation.Schedule, error) {
	sc := activation.Schedule{
		ID:             id,
		IsRecurring:    m["is_recurring"] == "1",
		IsActive:       m["is_active"] == "1",
		DailyStartTime: m["daily_start_time"],
		DailyEndTime:   m["daily_end_time"],
	}
	var err error
	if sc.StartDate, err = decodeTime(m["start_date"]); err != nil {
		return activation.Schedule{}, fmt.Errorf("start_date: %w", err)
	}
	if sc.EndDate, err = decodeTime(m["end_date"]); err != nil {
		return activation.Schedule{}, fmt.Errorf("end_date: %w", err)
	}
	if u, err := decodeTime(m["updated_at"]); err == nil && u != nil {
		sc.UpdatedAt = *u
	}
	return sc, nil
}
