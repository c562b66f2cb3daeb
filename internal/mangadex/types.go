package mangadex

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable covers network, transport and decoding failures.
var ErrUnavailable = errors.New("mangadex: unavailable")

// APIError is one entry of an error envelope.
type APIError struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// RejectedError means the API answered with a structured error envelope.
type RejectedError struct {
	Errors []APIError
}

func (e *RejectedError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "mangadex: request rejected"
	case 1:
		return "mangadex: request rejected: " + e.Errors[0].Detail
	default:
		parts := make([]string, 0, len(e.Errors))
		for _, ae := range e.Errors {
			parts = append(parts, fmt.Sprintf("%d %s", ae.Status, ae.Title))
		}
		return "mangadex: request rejected: " + strings.Join(parts, "; ")
	}
}

// NotFound reports whether every error is a 404.
func (e *RejectedError) NotFound() bool {
	if len(e.Errors) == 0 {
		return false
	}
	for _, ae := range e.Errors {
		if ae.Status != 404 {
			return false
		}
	}
	return true
}

// Chapter is the latest published chapter of a manga.
// Number, Volume and Title are empty when the upstream leaves them unset.
type Chapter struct {
	ID       string
	Number   string
	Volume   string
	Title    string
	Pages    int
	Language string
	// PublishedAt is the upstream publishAt value, RFC 3339.
	PublishedAt string
}

// URL is the reader link for the chapter on site (for example https://mangadex.org).
func (c Chapter) URL(site string) string {
	return strings.TrimRight(site, "/") + "/chapter/" + c.ID
}

// envelope is the {"result": "ok"|"error", ...} wrapper around every response.
type envelope struct {
	Result string          `json:"result"`
	Data   json.RawMessage `json:"data"`
	Errors []APIError      `json:"errors"`
}

type chapterData struct {
	ID         string `json:"id"`
	Attributes struct {
		Title              *string `json:"title"`
		Volume             *string `json:"volume"`
		Chapter            *string `json:"chapter"`
		Pages              int     `json:"pages"`
		TranslatedLanguage *string `json:"translatedLanguage"`
		PublishAt          *string `json:"publishAt"`
	} `json:"attributes"`
}

func (d chapterData) chapter() Chapter {
	a := d.Attributes
	return Chapter{
		ID:          d.ID,
		Number:      deref(a.Chapter),
		Volume:      deref(a.Volume),
		Title:       deref(a.Title),
		Pages:       a.Pages,
		Language:    deref(a.TranslatedLanguage),
		PublishedAt: deref(a.PublishAt),
	}
}

type mangaData struct {
	ID         string `json:"id"`
	Attributes struct {
		Title map[string]string `json:"title"`
	} `json:"attributes"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
