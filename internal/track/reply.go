package track

import (
	"errors"
	"fmt"
)

const (
	replyAlreadyTracked = "This manga is already tracked by this channel."
	replyInvalid        = "Please specify a valid manga id or url."
	replyFailed         = "Something went wrong while talking to MangaDex or the database. Please try again later."
)

// ReplyText renders the chat answer for a Track call.
func ReplyText(res Result, err error) string {
	switch {
	case errors.Is(err, ErrInvalidReference):
		return replyInvalid
	case err != nil:
		return replyFailed
	case res.Outcome == AlreadyTracked:
		return replyAlreadyTracked
	default:
		return fmt.Sprintf("Now tracking %s.", res.Title)
	}
}
