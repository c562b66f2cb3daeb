package notifier

import (
	"fmt"

	"mangadexbot/internal/mangadex"
	"mangadexbot/internal/scan"
)

// Render formats the chat message for an update, picking the most specific
// template the chapter fields allow, and appends the chapter link.
func Render(ev scan.UpdateEvent, site string) string {
	if site == "" {
		site = mangadex.DefaultSiteRoot
	}
	return headline(ev.Title, ev.Chapter) + "\n" + ev.Chapter.URL(site)
}

func headline(title string, ch mangadex.Chapter) string {
	switch {
	case ch.Number != "" && ch.Title != "":
		return fmt.Sprintf("New chapter!\n%s ch. %s: %s", title, ch.Number, ch.Title)
	case ch.Number != "":
		return fmt.Sprintf("New chapter!\n%s ch. %s", title, ch.Number)
	default:
		return fmt.Sprintf("New chapter for %s!", title)
	}
}
