package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"surveysched/internal/activation"
	"surveysched/pkg/logx"
)

// fileStore keeps every schedule in memory and persists it as:
//   - <prefix>.snapshot.json (full map, rewritten on compaction)
//   - <prefix>.journal.jsonl (one full record per mutation)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on Close.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	items        map[string]activation.Schedule
	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	items := map[string]activation.Schedule{}
	if err := loadSnapshot(snapPath, items); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	skipped, err := replayJournal(journalPath, items)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped unreadable journal lines", logx.Int("lines", skipped))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("schedules", len(items)))

	return &fileStore{
		log:          log,
		items:        items,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 500,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) Create(ctx context.Context, id string) (activation.Schedule, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return activation.Schedule{}, ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return activation.Schedule{}, ErrExists
	}
	sc := activation.Schedule{ID: id, UpdatedAt: stamp()}
	if err := s.putLocked(sc); err != nil {
		return activation.Schedule{}, err
	}
	return sc, nil
}

func (s *fileStore) Get(ctx context.Context, id string) (activation.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.items[id]
	if !ok {
		return activation.Schedule{}, ErrNotFound
	}
	return sc, nil
}

func (s *fileStore) List(ctx context.Context) ([]activation.Schedule, error) {
	return s.list(false), nil
}

func (s *fileStore) ListRecurring(ctx context.Context) ([]activation.Schedule, error) {
	return s.list(true), nil
}

func (s *fileStore) list(recurringOnly bool) []activation.Schedule {
	s.mu.Lock()
	out := make([]activation.Schedule, 0, len(s.items))
	for _, sc := range s.items {
		if recurringOnly && !sc.IsRecurring {
			continue
		}
		out = append(out, sc)
	}
	s.mu.Unlock()
	sortByID(out)
	return out
}

func (s *fileStore) SetBounds(ctx context.Context, id string, b activation.Bounds) (activation.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.items[id]
	if !ok {
		return activation.Schedule{}, ErrNotFound
	}
	b.Apply(&sc)
	sc.UpdatedAt = stamp()
	if err := s.putLocked(sc); err != nil {
		return activation.Schedule{}, err
	}
	return sc, nil
}

func (s *fileStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	sc.IsActive = active
	sc.UpdatedAt = stamp()
	return s.putLocked(sc)
}

// putLocked journals sc before making it visible.
func (s *fileStore) putLocked(sc activation.Schedule) error {
	if s.journal == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(sc); err != nil {
		return err
	}
	s.items[sc.ID] = sc
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.items); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]activation.Schedule) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]activation.Schedule
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies journal records in order and returns how many lines
// could not be decoded (typically a torn final write).
func replayJournal(path string, out map[string]activation.Schedule) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec activation.Schedule
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil || rec.ID == "" {
			skipped++
			continue
		}
		out[rec.ID] = rec
	}
	return skipped, sc.Err()
}
