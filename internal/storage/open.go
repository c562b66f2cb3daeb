package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"mangadexbot/pkg/logx"
)

// Store is the tracking record store. Every operation is atomic for a single record.
type Store interface {
	// Create inserts a new record. ErrConflict if the id exists.
	Create(ctx context.Context, m Manga) error
	Get(ctx context.Context, id string) (Manga, bool, error)
	// List returns a snapshot of every record, taken at call time.
	List(ctx context.Context) ([]Manga, error)
	// AddSubscriber is idempotent. ErrNotFound if the record is missing.
	AddSubscriber(ctx context.Context, id, sub string) error
	// SetLatestChapter overwrites the baseline unconditionally and marks the record baselined.
	SetLatestChapter(ctx context.Context, id, chapterID string) error
	Close() error
}

// Open initializes the configured store, retrying transient failures
// until ctx ends or the attempts run out.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	var open func() (Store, error)
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		open = func() (Store, error) { return openFile(cfg, log) }
	case "sqlite", "sqlite3":
		open = func() (Store, error) { return openSQLite(ctx, cfg, log) }
	case "mongo", "mongodb":
		open = func() (Store, error) { return openMongo(cfg, log) }
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrBadConfig, driver)
	}

	if err := validate(driver, cfg); err != nil {
		return nil, err
	}

	attempts := cfg.OpenAttempts
	if attempts == 0 {
		attempts = 5
	}

	var st Store
	err := retry.Do(
		func() error {
			s, err := open()
			if err != nil {
				return err
			}
			st = s
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(500*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("storage open failed, retrying", logx.String("driver", driver), logx.Uint64("attempt", uint64(n)), logx.Err(err))
		}),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrBadConfig)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, driver, err)
	}
	log.Info("storage opened", logx.String("driver", driver))
	return st, nil
}

func validate(driver string, cfg Config) error {
	switch driver {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			return fmt.Errorf("%w: %s driver needs a path", ErrBadConfig, driver)
		}
	case "mongo", "mongodb":
		if strings.TrimSpace(cfg.URL) == "" {
			return fmt.Errorf("%w: mongo driver needs a connection string", ErrBadConfig)
		}
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
