package storage

import (
	"errors"
	"slices"
	"time"
)

var (
	// ErrConflict is returned by Create when the id is already tracked.
	ErrConflict = errors.New("storage: manga already tracked")
	// ErrNotFound is returned by writes that target a missing record.
	ErrNotFound = errors.New("storage: manga not tracked")
	// ErrUnavailable wraps every driver/transport failure.
	ErrUnavailable = errors.New("storage: unavailable")
	// ErrBadConfig reports an unusable storage configuration.
	ErrBadConfig = errors.New("storage: bad config")
	// ErrNoSubscribers is returned by Create for a record nobody subscribes to.
	ErrNoSubscribers = errors.New("storage: manga has no subscribers")

	errEmptyID = errors.New("storage: empty manga id")
)

// Manga is one tracked title.
//
// LatestChapterID is the baseline: the last chapter subscribers were told
// about. Baselined reports whether the baseline was ever resolved; a
// baselined record with an empty LatestChapterID had no chapters yet.
type Manga struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	LatestChapterID string   `json:"latestUpdateId,omitempty"`
	Baselined       bool     `json:"baselined,omitempty"`
	Subscribers     []string `json:"subscribers"`
}

// HasSubscriber reports whether sub is subscribed.
func (m Manga) HasSubscriber(sub string) bool {
	return slices.Contains(m.Subscribers, sub)
}

// Clone returns a copy that shares no memory with m.
func (m Manga) Clone() Manga {
	m.Subscribers = slices.Clone(m.Subscribers)
	return m
}

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on restart
//   - "file": JSON journal plus snapshot under Path
//   - "sqlite": SQLite database file at Path
//   - "mongo": MongoDB at URL, Database/Collection
type Config struct {
	Driver      string
	Path        string
	URL         string
	Database    string
	Collection  string
	BusyTimeout time.Duration // sqlite only
	DialTimeout time.Duration // mongo only

	// OpenAttempts bounds connection attempts at startup. 0 means 5.
	OpenAttempts uint
}
