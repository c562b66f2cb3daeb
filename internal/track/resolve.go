package track

import (
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidReference means the argument is neither a manga id nor a manga URL.
var ErrInvalidReference = errors.New("track: invalid manga reference")

// SiteHost is the only host accepted in manga URLs.
const SiteHost = "mangadex.org"

// ResolveMangaID accepts a bare UUID (any form uuid.Parse knows) or a
// https://mangadex.org/title/{uuid}[/...] URL and returns the canonical
// lowercase hyphenated id.
func ResolveMangaID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrInvalidReference
	}
	if id, err := uuid.Parse(ref); err == nil {
		return id.String(), nil
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return "", ErrInvalidReference
	}
	if !strings.EqualFold(u.Hostname(), SiteHost) {
		return "", ErrInvalidReference
	}
	segs := strings.Split(strings.Trim(u.EscapedPath(), "/"), "/")
	if len(segs) < 2 || segs[0] != "title" {
		return "", ErrInvalidReference
	}
	id, err := uuid.Parse(segs[1])
	if err != nil {
		return "", ErrInvalidReference
	}
	return id.String(), nil
}
