package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mangadexbot/pkg/logx"
)

// fileStore persists records without an external database.
//
// Files:
//   - <prefix>.snapshot.json (every record, rewritten on compaction)
//   - <prefix>.journal.jsonl (one full record per write, append-only)
//
// On open the snapshot is loaded and the journal replayed over it.
type fileStore struct {
	log logx.Logger

	mu  sync.Mutex
	mem *memStore

	snapshotPath string
	journal      *os.File
	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	mem := newMemStore()
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	if err := loadSnapshot(snapPath, mem.byID); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, mem.byID); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s := &fileStore{
		log:          log,
		mem:          mem,
		snapshotPath: snapPath,
		journal:      jf,
		compactEvery: 500,
	}
	if err := s.compactLocked(); err != nil {
		log.Warn("storage compaction failed", logx.Err(err))
	}
	return s, nil
}

func (s *fileStore) Create(ctx context.Context, m Manga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return unavailable("create", os.ErrClosed)
	}
	s.mem.mu.RLock()
	rec, err := s.mem.prepareCreate(m)
	s.mem.mu.RUnlock()
	if err != nil {
		return err
	}
	return s.commitLocked("create", rec)
}

func (s *fileStore) Get(ctx context.Context, id string) (Manga, bool, error) {
	return s.mem.Get(ctx, id)
}

func (s *fileStore) List(ctx context.Context) ([]Manga, error) {
	return s.mem.List(ctx)
}

func (s *fileStore) AddSubscriber(ctx context.Context, id, sub string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return unavailable("add subscriber", os.ErrClosed)
	}
	s.mem.mu.RLock()
	rec, changed, err := s.mem.prepareAddSubscriber(id, sub)
	s.mem.mu.RUnlock()
	if err != nil || !changed {
		return err
	}
	return s.commitLocked("add subscriber", rec)
}

func (s *fileStore) SetLatestChapter(ctx context.Context, id, chapterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return unavailable("set latest", os.ErrClosed)
	}
	s.mem.mu.RLock()
	rec, err := s.mem.prepareSetLatest(id, chapterID)
	s.mem.mu.RUnlock()
	if err != nil {
		return err
	}
	return s.commitLocked("set latest", rec)
}

// commitLocked journals rec and only then makes it visible in memory.
// s.mu serializes writers, so nothing changes between prepare and commit.
func (s *fileStore) commitLocked(op string, rec Manga) error {
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return unavailable(op, err)
	}
	s.mem.mu.Lock()
	s.mem.byID[rec.ID] = rec
	s.mem.mu.Unlock()

	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("storage compaction failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

// compactLocked folds the journal into a fresh snapshot.
func (s *fileStore) compactLocked() error {
	s.mem.mu.RLock()
	all := make([]Manga, 0, len(s.mem.byID))
	for _, m := range s.mem.byID {
		all = append(all, m)
	}
	s.mem.mu.RUnlock()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(all); err != nil {
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
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(path string, out map[string]Manga) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []Manga
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return err
	}
	for _, m := range all {
		if m.ID != "" {
			out[m.ID] = m
		}
	}
	return nil
}

func replayJournal(path string, out map[string]Manga) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var m Manga
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil || m.ID == "" {
			// A torn tail write is skipped.
			continue
		}
		out[m.ID] = m
	}
	return sc.Err()
}
