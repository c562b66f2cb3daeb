package storage

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
)

// memStore keeps records in a map. It is also the in-memory index of fileStore.
type memStore struct {
	mu   sync.RWMutex
	byID map[string]Manga
}

// NewMemory returns an empty process-local store.
func NewMemory() Store { return newMemStore() }

func newMemStore() *memStore {
	return &memStore{byID: map[string]Manga{}}
}

func (s *memStore) Create(ctx context.Context, m Manga) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.prepareCreate(m)
	if err != nil {
		return err
	}
	s.byID[rec.ID] = rec
	return nil
}

// The prepare* helpers compute the record a write would leave behind without
// changing the map. Callers hold s.mu and store the result themselves.

func (s *memStore) prepareCreate(m Manga) (Manga, error) {
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		return Manga{}, errEmptyID
	}
	m = m.Clone()
	m.Subscribers = dedupe(m.Subscribers)
	if len(m.Subscribers) == 0 {
		return Manga{}, ErrNoSubscribers
	}
	if _, ok := s.byID[m.ID]; ok {
		return Manga{}, ErrConflict
	}
	return m, nil
}

func (s *memStore) Get(ctx context.Context, id string) (Manga, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return Manga{}, false, nil
	}
	return m.Clone(), true, nil
}

func (s *memStore) List(ctx context.Context) ([]Manga, error) {
	s.mu.RLock()
	out := make([]Manga, 0, len(s.byID))
	for _, m := range s.byID {
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) AddSubscriber(ctx context.Context, id, sub string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, changed, err := s.prepareAddSubscriber(id, sub)
	if err != nil || !changed {
		return err
	}
	s.byID[id] = rec
	return nil
}

// prepareAddSubscriber reports whether the record would change.
func (s *memStore) prepareAddSubscriber(id, sub string) (Manga, bool, error) {
	m, ok := s.byID[id]
	if !ok {
		return Manga{}, false, ErrNotFound
	}
	if m.HasSubscriber(sub) {
		return m, false, nil
	}
	m = m.Clone()
	m.Subscribers = append(m.Subscribers, sub)
	return m, true, nil
}

func (s *memStore) SetLatestChapter(ctx context.Context, id, chapterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.prepareSetLatest(id, chapterID)
	if err != nil {
		return err
	}
	s.byID[id] = rec
	return nil
}

func (s *memStore) prepareSetLatest(id, chapterID string) (Manga, error) {
	m, ok := s.byID[id]
	if !ok {
		return Manga{}, ErrNotFound
	}
	m = m.Clone()
	m.LatestChapterID = chapterID
	m.Baselined = true
	return m, nil
}

func (s *memStore) Close() error { return nil }

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
