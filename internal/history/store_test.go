package history

import (
	"net/url"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPathOf(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://a.example/album/1", "/album/1"},
		{"https://a.example", "/"},
		{"https://a.example/f?id=2&p=3", "/f?id=2&p=3"},
		{"https://a.example/a%20b", "/a%20b"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		if got := PathOf(u); got != tt.want {
			t.Errorf("PathOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarkCompletePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s := openTestStore(t, path)

	rec := &Record{
		Site:        "example",
		URLPath:     "/f/1",
		RefererPath: "/album/1",
		RefererURL:  "https://a.example/album/1",
		Filename:    "pic.jpg",
		Filesize:    1234,
		Hash:        "deadbeef",
	}
	if err := s.MarkComplete(rec); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	done, err := s.IsComplete("example", "/f/1")
	if err != nil || !done {
		t.Fatalf("IsComplete = %v, %v, want true", done, err)
	}
	s.Close()

	s2 := openTestStore(t, path)
	done, err = s2.IsComplete("example", "/f/1")
	if err != nil || !done {
		t.Fatalf("IsComplete after reopen = %v, %v, want true", done, err)
	}
	if done, _ := s2.IsComplete("example", "/f/2"); done {
		t.Fatal("unknown path reported complete")
	}
	if done, _ := s2.IsComplete("othersite", "/f/1"); done {
		t.Fatal("path complete under the wrong site")
	}
}

func TestRefererSeenOnlyFromPriorRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s := openTestStore(t, path)

	rec := &Record{Site: "example", URLPath: "/f/1", RefererPath: "/album/1", RefererURL: "https://a.example/album/1"}
	if err := s.MarkComplete(rec); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	// Within the writing run, the referer sits in the temp table and must
	// not short-circuit the rest of the same album.
	done, err := s.IsCompleteByReferer("example", "/album/1")
	if err != nil || done {
		t.Fatalf("same-run referer check = %v, %v, want false", done, err)
	}
	s.Close()

	// A new run clears the temp table; now the referer counts.
	s2 := openTestStore(t, path)
	done, err = s2.IsCompleteByReferer("example", "/album/1")
	if err != nil || !done {
		t.Fatalf("next-run referer check = %v, %v, want true", done, err)
	}
}

func TestMarkFailedCountsAttempts(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))

	rec := &Record{Site: "example", URLPath: "/f/1", RefererURL: "https://a.example/album/1"}
	for i := 0; i < 3; i++ {
		if err := s.MarkFailed(rec); err != nil {
			t.Fatalf("MarkFailed %d: %v", i, err)
		}
	}
	failed, err := s.FetchFailedItems()
	if err != nil {
		t.Fatalf("FetchFailedItems: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("got %d failed rows, want 1", len(failed))
	}
	if failed[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", failed[0].Attempts)
	}
	if failed[0].RefererURL != "https://a.example/album/1" {
		t.Errorf("referer url = %q", failed[0].RefererURL)
	}

	// Completion removes the row from the failed set.
	if err := s.MarkComplete(rec); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	failed, _ = s.FetchFailedItems()
	if len(failed) != 0 {
		t.Fatalf("completed row still reported failed: %+v", failed)
	}
}

func TestFetchAllItemsDateRange(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, day := range []int{0, 5, 10} {
		rec := &Record{
			Site:        "example",
			URLPath:     "/f/" + string(rune('a'+i)),
			CompletedAt: base.AddDate(0, 0, day),
		}
		if err := s.MarkComplete(rec); err != nil {
			t.Fatalf("MarkComplete: %v", err)
		}
	}

	all, err := s.FetchAllItems(time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("FetchAllItems: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("open range got %d rows, want 3", len(all))
	}

	mid, err := s.FetchAllItems(base.AddDate(0, 0, 1), base.AddDate(0, 0, 9))
	if err != nil {
		t.Fatalf("FetchAllItems bounded: %v", err)
	}
	if len(mid) != 1 || !mid[0].CompletedAt.Equal(base.AddDate(0, 0, 5)) {
		t.Fatalf("bounded range = %+v, want only the middle row", mid)
	}
}

func TestMarkIncomplete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))

	rec := &Record{Site: "example", URLPath: "/f/1", Hash: "abc123"}
	if err := s.MarkComplete(rec); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if err := s.MarkIncomplete("example", "/f/1"); err != nil {
		t.Fatalf("MarkIncomplete: %v", err)
	}
	if done, _ := s.IsComplete("example", "/f/1"); done {
		t.Fatal("row still complete after MarkIncomplete")
	}
	failed, _ := s.FetchFailedItems()
	if len(failed) != 1 {
		t.Fatalf("got %d failed rows, want 1", len(failed))
	}
}

func TestFetchByHash(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))

	s.MarkComplete(&Record{Site: "example", URLPath: "/f/1", Hash: "AAAA"})
	s.MarkComplete(&Record{Site: "example", URLPath: "/f/2", Hash: "bbbb"})
	s.MarkComplete(&Record{Site: "other", URLPath: "/f/3", Hash: "aaaa"})

	got, err := s.FetchByHash("example", []string{"aaaa"})
	if err != nil {
		t.Fatalf("FetchByHash: %v", err)
	}
	if len(got) != 1 || got[0].URLPath != "/f/1" {
		t.Fatalf("FetchByHash = %+v, want only /f/1 (case-insensitive, site-scoped)", got)
	}

	if got, _ := s.FetchByHash("example", nil); got != nil {
		t.Fatalf("empty hash list returned %+v", got)
	}
}

func TestForumPositions(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))

	if u, err := s.LastForumPost("forum", "/threads/1"); err != nil || u != "" {
		t.Fatalf("unknown thread = %q, %v", u, err)
	}
	if err := s.SetLastForumPost("forum", "/threads/1", "https://f.example/threads/1#post-9"); err != nil {
		t.Fatalf("SetLastForumPost: %v", err)
	}
	if err := s.SetLastForumPost("forum", "/threads/1", "https://f.example/threads/1#post-42"); err != nil {
		t.Fatalf("SetLastForumPost update: %v", err)
	}
	u, err := s.LastForumPost("forum", "/threads/1")
	if err != nil || u != "https://f.example/threads/1#post-42" {
		t.Fatalf("LastForumPost = %q, %v", u, err)
	}
}

func TestMarkAlbumMembership(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "history.db"))

	rec := &Record{Site: "example", URLPath: "/f/1"}
	if err := s.MarkComplete(rec); err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if err := s.MarkAlbumMembership("example", "/f/1", "ALB"); err != nil {
		t.Fatalf("MarkAlbumMembership: %v", err)
	}
	all, _ := s.FetchAllItems(time.Time{}, time.Time{})
	if len(all) != 1 || all[0].AlbumID != "ALB" {
		t.Fatalf("album id not bound: %+v", all)
	}
}
