package transport

import (
	"errors"
	"testing"
)

func TestChatTargetKeyRoundTrip(t *testing.T) {
	cases := []struct {
		in   ChatTarget
		want string
	}{
		{ChatTarget{ChatID: 42}, "42"},
		{ChatTarget{ChatID: -1001234567890}, "-1001234567890"},
		{ChatTarget{ChatID: -100123, ThreadID: 7}, "-100123:7"},
	}
	for _, tc := range cases {
		got := tc.in.Key()
		if got != tc.want {
			t.Fatalf("Key(%+v)=%q want %q", tc.in, got, tc.want)
		}
		back, err := ParseChatTarget(got)
		if err != nil {
			t.Fatalf("ParseChatTarget(%q): %v", got, err)
		}
		if back != tc.in {
			t.Fatalf("ParseChatTarget(%q)=%+v want %+v", got, back, tc.in)
		}
	}
}

func TestParseChatTargetRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "0", "12:", "12:x", "12:-3", ":5"} {
		if _, err := ParseChatTarget(in); !errors.Is(err, ErrBadTarget) {
			t.Fatalf("ParseChatTarget(%q) err=%v want ErrBadTarget", in, err)
		}
	}
}
