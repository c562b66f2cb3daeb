package scan

import (
	"context"
	"fmt"

	"mangadexbot/internal/eventbus"
	"mangadexbot/internal/mangadex"
	"mangadexbot/internal/storage"
	"mangadexbot/pkg/logx"
)

// UpdateEvent announces a chapter newer than the stored baseline.
// Subscribers is the subscriber set at detection time; later subscribers are not included.
type UpdateEvent struct {
	MangaID     string
	Title       string
	Chapter     mangadex.Chapter
	Subscribers []string
}

// ChapterSource is the upstream lookup the detector needs.
type ChapterSource interface {
	LatestChapter(ctx context.Context, mangaID string) (mangadex.Chapter, bool, error)
}

// Detector compares one record against the upstream latest chapter.
type Detector struct {
	store    storage.Store
	upstream ChapterSource
	bus      eventbus.Bus
	log      logx.Logger
}

func NewDetector(store storage.Store, upstream ChapterSource, bus eventbus.Bus, log logx.Logger) *Detector {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Detector{store: store, upstream: upstream, bus: bus, log: log}
}

// Detect returns an event when m has a new chapter, after persisting it as the baseline.
//
// Upstream failures are logged and reported as "no event": the baseline is
// untouched so the next cycle retries. Store failures are returned.
// A record that was never baselined gets one silently; a baselined record
// that had no chapters notifies on its first chapter. The event carries the
// subscribers of m as listed, not the live record.
func (d *Detector) Detect(ctx context.Context, m storage.Manga) (*UpdateEvent, error) {
	log := d.log.With(logx.String("manga", m.ID))

	ch, ok, err := d.upstream.LatestChapter(ctx, m.ID)
	if err != nil {
		if mangadex.IsRejected(err) {
			log.Warn("latest chapter lookup rejected", logx.Err(err))
		} else {
			log.Info("latest chapter lookup failed", logx.Err(err))
		}
		return nil, nil
	}
	if !ok || ch.ID == m.LatestChapterID {
		return nil, nil
	}

	if err := d.store.SetLatestChapter(ctx, m.ID, ch.ID); err != nil {
		return nil, fmt.Errorf("record chapter %s: %w", ch.ID, err)
	}
	if !m.Baselined && m.LatestChapterID == "" {
		log.Info("baseline recorded", logx.String("chapter", ch.ID))
		return nil, nil
	}

	ev := &UpdateEvent{
		MangaID:     m.ID,
		Title:       m.Title,
		Chapter:     ch,
		Subscribers: append([]string(nil), m.Subscribers...),
	}
	log.Info("new chapter",
		logx.String("chapter", ch.ID),
		logx.String("number", ch.Number),
		logx.Int("subscribers", len(ev.Subscribers)))
	d.bus.Publish(eventbus.Event{Type: eventbus.UpdateDetected, Data: ev})
	return ev, nil
}
