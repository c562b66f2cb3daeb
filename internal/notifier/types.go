package notifier

import "time"

// Config controls update fan-out.
type Config struct {
	// RatePerSec caps outgoing messages across all subscribers.
	RatePerSec int
	// SendTimeout bounds one delivery attempt.
	SendTimeout time.Duration
	// SiteRoot is the base of chapter links.
	SiteRoot string
	// HistorySize is how many deliveries are remembered for inspection.
	HistorySize int
}

// HistoryItem records one delivery attempt.
type HistoryItem struct {
	At         time.Time
	MangaID    string
	ChapterID  string
	Subscriber string
	Error      string
}

// DeliveryEvent is published on the bus for every attempt.
type DeliveryEvent struct {
	MangaID    string `json:"manga_id"`
	ChapterID  string `json:"chapter_id"`
	Subscriber string `json:"subscriber"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes the fan-out of one update.
type Report struct {
	Attempted int
	Sent      int
	Failed    int
}
