package track

import (
	"context"
	"errors"
	"testing"

	"mangadexbot/internal/mangadex"
	"mangadexbot/internal/scan"
	"mangadexbot/internal/storage"
	"mangadexbot/pkg/logx"
)

const mangaID = "a1c7c817-4e59-43b7-9365-09675a149a6f"

func TestResolveMangaID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{mangaID, mangaID, false},
		{"  A1C7C817-4E59-43B7-9365-09675A149A6F ", mangaID, false},
		{"https://mangadex.org/title/" + mangaID, mangaID, false},
		{"https://mangadex.org/title/" + mangaID + "/one-piece", mangaID, false},
		{"https://mangadex.org/title/" + mangaID + "?tab=chapters", mangaID, false},
		{"https://example.com/title/" + mangaID, "", true},
		{"https://mangadex.org/chapter/" + mangaID, "", true},
		{"https://mangadex.org/" + mangaID, "", true},
		{"https://mangadex.org/title/not-a-uuid", "", true},
		{"https://mangadex.org/title/", "", true},
		{"ftp://mangadex.org/title/" + mangaID, "", true},
		{"one piece", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ResolveMangaID(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidReference) {
				t.Fatalf("ResolveMangaID(%q)=(%q,%v) want ErrInvalidReference", tc.in, got, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ResolveMangaID(%q)=(%q,%v) want %q", tc.in, got, err, tc.want)
		}
	}
}

type fakeUpstream struct {
	title      string
	hasTitle   bool
	chapter    mangadex.Chapter
	hasChapter bool
	err        error
	titleCalls int
}

func (f *fakeUpstream) Title(context.Context, string) (string, bool, error) {
	f.titleCalls++
	return f.title, f.hasTitle, f.err
}

func (f *fakeUpstream) LatestChapter(context.Context, string) (mangadex.Chapter, bool, error) {
	return f.chapter, f.hasChapter, f.err
}

func TestTrackCreatesWithBaseline(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	up := &fakeUpstream{title: "One Piece", hasTitle: true, chapter: mangadex.Chapter{ID: "c7"}, hasChapter: true}
	h := NewHandler(st, up, nil, logx.Nop())

	res, err := h.Track(ctx, "100", "https://mangadex.org/title/"+mangaID+"/one-piece")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if res.Outcome != NowTracking || !res.Created || ReplyText(res, nil) != "Now tracking One Piece." {
		t.Fatalf("unexpected result %+v / %q", res, ReplyText(res, nil))
	}
	m, ok, _ := st.Get(ctx, mangaID)
	if !ok || m.LatestChapterID != "c7" || len(m.Subscribers) != 1 || m.Subscribers[0] != "100" {
		t.Fatalf("unexpected record %+v", m)
	}
}

func TestTrackIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	up := &fakeUpstream{title: "T", hasTitle: true}
	h := NewHandler(st, up, nil, logx.Nop())

	if _, err := h.Track(ctx, "100", mangaID); err != nil {
		t.Fatalf("first Track: %v", err)
	}
	res, err := h.Track(ctx, "100", mangaID)
	if err != nil {
		t.Fatalf("second Track: %v", err)
	}
	if res.Outcome != AlreadyTracked || ReplyText(res, nil) != "This manga is already tracked by this channel." {
		t.Fatalf("unexpected second result %+v", res)
	}
	m, _, _ := st.Get(ctx, mangaID)
	if len(m.Subscribers) != 1 {
		t.Fatalf("subscribers=%v want exactly one", m.Subscribers)
	}
	if up.titleCalls != 1 {
		t.Fatalf("upstream consulted %d times, want 1", up.titleCalls)
	}
}

func TestTrackFallsBackToIDTitle(t *testing.T) {
	st := storage.NewMemory()
	h := NewHandler(st, &fakeUpstream{}, nil, logx.Nop())
	res, err := h.Track(context.Background(), "1", mangaID)
	if err != nil || res.Title != mangaID {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestTrackUpstreamFailureLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	h := NewHandler(st, &fakeUpstream{err: mangadex.ErrUnavailable}, nil, logx.Nop())

	res, err := h.Track(ctx, "1", mangaID)
	if !errors.Is(err, mangadex.ErrUnavailable) {
		t.Fatalf("err=%v want ErrUnavailable", err)
	}
	if txt := ReplyText(res, err); txt != replyFailed {
		t.Fatalf("reply=%q", txt)
	}
	if _, ok, _ := st.Get(ctx, mangaID); ok {
		t.Fatalf("record must not exist after upstream failure")
	}
}

func TestTrackInvalidReferenceReply(t *testing.T) {
	h := NewHandler(storage.NewMemory(), &fakeUpstream{}, nil, logx.Nop())
	res, err := h.Track(context.Background(), "1", "https://example.com/title/"+mangaID)
	if got := ReplyText(res, err); got != "Please specify a valid manga id or url." {
		t.Fatalf("reply=%q", got)
	}
}

// racingStore lets another requester create the record between Get and Create.
type racingStore struct {
	storage.Store
	raced bool
}

func (r *racingStore) Create(ctx context.Context, m storage.Manga) error {
	if !r.raced {
		r.raced = true
		winner := storage.Manga{ID: m.ID, Title: "Winner", Subscribers: []string{"other"}}
		if err := r.Store.Create(ctx, winner); err != nil {
			return err
		}
	}
	return r.Store.Create(ctx, m)
}

func TestTrackConflictBecomesSubscribe(t *testing.T) {
	ctx := context.Background()
	st := &racingStore{Store: storage.NewMemory()}
	h := NewHandler(st, &fakeUpstream{title: "Loser", hasTitle: true}, nil, logx.Nop())

	res, err := h.Track(ctx, "me", mangaID)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if res.Outcome != NowTracking || res.Created || res.Title != "Winner" {
		t.Fatalf("unexpected result %+v", res)
	}
	m, _, _ := st.Get(ctx, mangaID)
	if !m.HasSubscriber("me") || !m.HasSubscriber("other") {
		t.Fatalf("unexpected subscribers %v", m.Subscribers)
	}
}

// TestTrackThenScan walks a manga from registration through its first update.
func TestTrackThenScan(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	up := &fakeUpstream{title: "X", hasTitle: true}
	h := NewHandler(st, up, nil, logx.Nop())

	// No chapters yet: the baseline is known to be empty.
	if _, err := h.Track(ctx, "A", mangaID); err != nil {
		t.Fatalf("Track A: %v", err)
	}
	m, _, _ := st.Get(ctx, mangaID)
	if m.LatestChapterID != "" || !m.Baselined {
		t.Fatalf("want empty baseline, got %q baselined=%v", m.LatestChapterID, m.Baselined)
	}

	out := make(chan scan.UpdateEvent, 4)
	sched := scan.NewScheduler(st, scan.NewDetector(st, up, nil, logx.Nop()), out, nil, 0, nil, logx.Nop())

	// Chapter C1 appears after registration and is announced.
	up.chapter, up.hasChapter = mangadex.Chapter{ID: "C1", Number: "1"}, true
	sched.RunCycle(ctx)
	if len(out) != 1 {
		t.Fatalf("first chapter emitted %d events, want 1", len(out))
	}
	if ev := <-out; ev.Chapter.ID != "C1" || len(ev.Subscribers) != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}

	// A second subscriber joins before anything new appears.
	res, err := h.Track(ctx, "B", "https://mangadex.org/title/"+mangaID)
	if err != nil || res.Outcome != NowTracking || res.Created {
		t.Fatalf("Track B: res=%+v err=%v", res, err)
	}
	sched.RunCycle(ctx)
	if len(out) != 0 {
		t.Fatalf("unchanged upstream emitted %d events", len(out))
	}

	// C2 is published: one event for both subscribers.
	up.chapter = mangadex.Chapter{ID: "C2", Number: "2"}
	sched.RunCycle(ctx)
	if len(out) != 1 {
		t.Fatalf("events=%d want 1", len(out))
	}
	ev := <-out
	if ev.MangaID != mangaID || ev.Chapter.ID != "C2" || len(ev.Subscribers) != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
	m, _, _ = st.Get(ctx, mangaID)
	if m.LatestChapterID != "C2" {
		t.Fatalf("baseline=%q want C2", m.LatestChapterID)
	}
}
