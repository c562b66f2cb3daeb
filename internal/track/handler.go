package track

import (
	"context"
	"errors"
	"fmt"

	"mangadexbot/internal/eventbus"
	"mangadexbot/internal/mangadex"
	"mangadexbot/internal/storage"
	"mangadexbot/pkg/logx"
)

// Upstream is what registration needs from the manga API.
type Upstream interface {
	Title(ctx context.Context, mangaID string) (string, bool, error)
	LatestChapter(ctx context.Context, mangaID string) (mangadex.Chapter, bool, error)
}

type Outcome int

const (
	NowTracking Outcome = iota + 1
	AlreadyTracked
)

type Result struct {
	Outcome Outcome
	MangaID string
	Title   string
	// Created is set when this request created the record.
	Created bool
}

// Handler registers subscribers against tracked manga.
type Handler struct {
	store    storage.Store
	upstream Upstream
	bus      eventbus.Bus
	log      logx.Logger
}

func NewHandler(store storage.Store, upstream Upstream, bus eventbus.Bus, log logx.Logger) *Handler {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Handler{store: store, upstream: upstream, bus: bus, log: log}
}

// Track subscribes subscriber to the manga named by ref, creating the record
// (with the current latest chapter as baseline) on first use.
//
// No record is written unless the upstream lookups succeed. A concurrent
// create of the same id falls back to subscribing to the winner's record.
func (h *Handler) Track(ctx context.Context, subscriber, ref string) (Result, error) {
	id, err := ResolveMangaID(ref)
	if err != nil {
		return Result{}, err
	}
	log := h.log.With(logx.String("manga", id), logx.String("subscriber", subscriber))

	m, found, err := h.store.Get(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("lookup %s: %w", id, err)
	}
	if found {
		return h.subscribe(ctx, log, m, subscriber)
	}

	title, ok, err := h.upstream.Title(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("title %s: %w", id, err)
	}
	if !ok {
		title = id
	}
	ch, hasChapter, err := h.upstream.LatestChapter(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("latest chapter %s: %w", id, err)
	}

	rec := storage.Manga{ID: id, Title: title, Baselined: true, Subscribers: []string{subscriber}}
	if hasChapter {
		rec.LatestChapterID = ch.ID
	}
	err = h.store.Create(ctx, rec)
	if errors.Is(err, storage.ErrConflict) {
		log.Debug("lost create race, subscribing instead")
		m, found, err := h.store.Get(ctx, id)
		if err != nil {
			return Result{}, fmt.Errorf("lookup %s: %w", id, err)
		}
		if !found {
			return Result{}, fmt.Errorf("lookup %s after conflict: %w", id, storage.ErrNotFound)
		}
		return h.subscribe(ctx, log, m, subscriber)
	}
	if err != nil {
		return Result{}, fmt.Errorf("create %s: %w", id, err)
	}

	log.Info("tracking started", logx.String("title", title), logx.String("baseline", rec.LatestChapterID))
	h.bus.Publish(eventbus.Event{Type: eventbus.TrackAccepted, Data: rec.Clone()})
	return Result{Outcome: NowTracking, MangaID: id, Title: title, Created: true}, nil
}

func (h *Handler) subscribe(ctx context.Context, log logx.Logger, m storage.Manga, subscriber string) (Result, error) {
	if m.HasSubscriber(subscriber) {
		return Result{Outcome: AlreadyTracked, MangaID: m.ID, Title: m.Title}, nil
	}
	if err := h.store.AddSubscriber(ctx, m.ID, subscriber); err != nil {
		return Result{}, fmt.Errorf("subscribe %s: %w", m.ID, err)
	}
	log.Info("subscriber added", logx.String("title", m.Title))
	h.bus.Publish(eventbus.Event{Type: eventbus.TrackAccepted, Data: m.Clone()})
	return Result{Outcome: NowTracking, MangaID: m.ID, Title: m.Title}, nil
}
