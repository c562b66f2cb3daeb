package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mangadexbot/internal/eventbus"
	rtsup "mangadexbot/internal/runtime/supervisor"
	"mangadexbot/internal/scan"
	"mangadexbot/internal/transport"
	"mangadexbot/pkg/logx"
)

var ErrNotStarted = errors.New("notifier not started")

// Service drains the update queue and delivers messages.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender transport.Sender
	bus    eventbus.Bus
	events <-chan scan.UpdateEvent

	cfg     Config
	limiter *rate.Limiter

	sup  *rtsup.Supervisor
	done chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender transport.Sender, events <-chan scan.UpdateEvent, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{sender: sender, events: events, bus: bus, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.cfg = cfg
	// Burst equals the rate so a small fan-out goes out at once.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the consumer. It returns when the queue is closed and
// drained, or when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.done = make(chan struct{})
	sup, done := s.sup, s.done
	s.mu.Unlock()

	sup.GoRestart("fanout", func(c context.Context) error {
		if s.consume(c) {
			return nil
		}
		return c.Err()
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second), rtsup.WithPublishFirstError(true))

	go func() {
		_ = sup.Wait(context.Background())
		close(done)
	}()
}

// consume reports true once the queue is closed and empty.
func (s *Service) consume(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-s.events:
			if !ok {
				return true
			}
			s.Deliver(ctx, ev)
		}
	}
}

// Stop waits for the consumer to drain a closed queue. When ctx ends first
// the consumer is cancelled and pending updates are dropped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup, done := s.sup, s.done
	s.mu.Unlock()
	if sup == nil {
		return ErrNotStarted
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	pending := len(s.events)
	sup.Cancel()
	<-done
	if pending > 0 {
		s.log.Warn("updates dropped on shutdown", logx.Int("pending", pending))
	}
	return ctx.Err()
}

// Deliver sends one message to every subscriber in the update's snapshot.
// Each subscriber gets exactly one attempt.
func (s *Service) Deliver(ctx context.Context, ev scan.UpdateEvent) Report {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	text := Render(ev, cfg.SiteRoot)
	log := s.log.With(logx.String("manga", ev.MangaID), logx.String("chapter", ev.Chapter.ID))

	var rep Report
	for _, sub := range ev.Subscribers {
		rep.Attempted++
		err := s.sendOne(ctx, lim, cfg.SendTimeout, sub, text)
		s.record(ev, sub, err)
		if err != nil {
			rep.Failed++
			log.Warn("notification failed", logx.String("subscriber", sub), logx.Err(err))
			continue
		}
		rep.Sent++
	}
	log.Info("update delivered",
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed))
	return rep
}

func (s *Service) sendOne(ctx context.Context, lim *rate.Limiter, timeout time.Duration, sub, text string) error {
	to, err := transport.ParseChatTarget(sub)
	if err != nil {
		return fmt.Errorf("subscriber %q: %w", sub, err)
	}
	if s.sender == nil {
		return errors.New("no sender configured")
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := lim.Wait(sctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	_, err = s.sender.SendText(sctx, to, text, &transport.SendOptions{})
	return err
}

func (s *Service) record(ev scan.UpdateEvent, sub string, err error) {
	it := HistoryItem{At: time.Now(), MangaID: ev.MangaID, ChapterID: ev.Chapter.ID, Subscriber: sub}
	de := DeliveryEvent{MangaID: ev.MangaID, ChapterID: ev.Chapter.ID, Subscriber: sub}
	typ := eventbus.NotifySent
	if err != nil {
		it.Error = err.Error()
		de.Error = err.Error()
		typ = eventbus.NotifyFailed
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: it.At, Data: de})

	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - limit; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	s.hmu.Unlock()
}

// History returns the most recent delivery attempts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
