package mangadex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mangadexbot/pkg/logx"
)

const (
	DefaultAPIRoot  = "https://api.mangadex.org"
	DefaultSiteRoot = "https://mangadex.org"
)

// DefaultTitleLanguages is the title preference: English, then romanized Japanese and Chinese.
var DefaultTitleLanguages = []string{"en", "ja-ro", "zh-ro"}

type Config struct {
	APIRoot string
	// Timeout bounds a single request, including the limiter wait.
	Timeout time.Duration
	// RatePerSec and Burst size the shared request limiter.
	RatePerSec float64
	Burst      int
	UserAgent  string
	// ChapterLanguage filters the latest chapter lookup.
	ChapterLanguage string
	ContentRatings  []string
	TitleLanguages  []string
}

// Client talks to the MangaDex REST API. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = DefaultAPIRoot
	}
	cfg.APIRoot = strings.TrimRight(cfg.APIRoot, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mangadexbot/1.0"
	}
	if cfg.ChapterLanguage == "" {
		cfg.ChapterLanguage = "en"
	}
	if len(cfg.ContentRatings) == 0 {
		cfg.ContentRatings = []string{"safe", "suggestive"}
	}
	if len(cfg.TitleLanguages) == 0 {
		cfg.TitleLanguages = DefaultTitleLanguages
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:     log,
	}
}

// LatestChapter returns the newest chapter of a manga.
// ok is false when the manga has no published chapter matching the filters.
func (c *Client) LatestChapter(ctx context.Context, mangaID string) (Chapter, bool, error) {
	q := url.Values{}
	q.Set("manga", mangaID)
	q.Set("limit", "1")
	q.Add("translatedLanguage[]", c.cfg.ChapterLanguage)
	for _, r := range c.cfg.ContentRatings {
		q.Add("contentRating[]", r)
	}
	q.Set("order[chapter]", "desc")

	var data []chapterData
	if err := c.get(ctx, "/chapter", q, &data); err != nil {
		return Chapter{}, false, err
	}
	if len(data) == 0 {
		return Chapter{}, false, nil
	}
	return data[0].chapter(), true, nil
}

// Title returns the preferred display title of a manga.
// ok is false when none of the configured languages has a title.
func (c *Client) Title(ctx context.Context, mangaID string) (string, bool, error) {
	var data mangaData
	if err := c.get(ctx, "/manga/"+url.PathEscape(mangaID), nil, &data); err != nil {
		return "", false, err
	}
	t, ok := pickTitle(data.Attributes.Title, c.cfg.TitleLanguages)
	return t, ok, nil
}

func pickTitle(titles map[string]string, langs []string) (string, bool) {
	for _, lang := range langs {
		if t := strings.TrimSpace(titles[lang]); t != "" {
			return t, true
		}
	}
	return "", false
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", ErrUnavailable, err)
	}

	u := c.cfg.APIRoot + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	c.log.Debug("upstream request",
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(started)))

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: decode %s (http %d): %v", ErrUnavailable, path, resp.StatusCode, err)
	}
	switch env.Result {
	case "ok":
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: decode %s data: %v", ErrUnavailable, path, err)
		}
		return nil
	case "error":
		return &RejectedError{Errors: env.Errors}
	default:
		return fmt.Errorf("%w: %s: unexpected result %q (http %d)", ErrUnavailable, path, env.Result, resp.StatusCode)
	}
}

// IsRejected reports whether err carries a structured API rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
