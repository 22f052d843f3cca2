package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/yllada/relayhop/common"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndListSessions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	recs := []SessionRecord{
		{ID: "a", Host: "1.1.1.1", CountryCode: "JP", Result: "failed-to-establish", StartedAt: base, EndedAt: base.Add(time.Minute)},
		{ID: "b", Host: "2.2.2.2", CountryCode: "DE", Result: "established-and-used", Bitrate: 5 << 20, StartedAt: base.Add(time.Hour), EndedAt: base.Add(2 * time.Hour)},
	}
	for _, rec := range recs {
		if err := s.RecordSession(ctx, rec); err != nil {
			t.Fatalf("RecordSession(%s) error = %v", rec.ID, err)
		}
	}

	got, err := s.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sessions, want 2", len(got))
	}

	// Most recent first.
	if got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("order = [%s %s], want [b a]", got[0].ID, got[1].ID)
	}
	if got[0].Host != "2.2.2.2" || got[0].CountryCode != "DE" {
		t.Errorf("row = %+v, want host 2.2.2.2 in DE", got[0])
	}
	if got[0].Bitrate != 5<<20 {
		t.Errorf("bitrate = %v, want %v", got[0].Bitrate, float64(5<<20))
	}
	if !got[0].StartedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("started_at = %v, want %v", got[0].StartedAt, base.Add(time.Hour))
	}
}

func TestStore_SessionsLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := SessionRecord{
			ID:          string(rune('a' + i)),
			Host:        "1.1.1.1",
			CountryCode: "JP",
			Result:      "failed-to-establish",
			StartedAt:   time.Now().Add(time.Duration(i) * time.Minute),
			EndedAt:     time.Now().Add(time.Duration(i+1) * time.Minute),
		}
		if err := s.RecordSession(ctx, rec); err != nil {
			t.Fatalf("RecordSession() error = %v", err)
		}
	}

	got, err := s.Sessions(ctx, 3)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d sessions, want 3", len(got))
	}
}

func TestStore_SessionsEmpty(t *testing.T) {
	s := testStore(t)

	got, err := s.Sessions(context.Background(), 10)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d sessions from an empty store", len(got))
	}
}

func TestStore_DirectoryCache(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	url := "https://example.org/feed"

	if _, _, err := s.CachedDirectory(ctx, url, time.Hour); !errors.Is(err, common.ErrDirectoryUnavailable) {
		t.Errorf("empty cache error = %v, want ErrDirectoryUnavailable", err)
	}

	if err := s.CacheDirectory(ctx, url, []byte("first")); err != nil {
		t.Fatalf("CacheDirectory() error = %v", err)
	}
	body, fetchedAt, err := s.CachedDirectory(ctx, url, time.Hour)
	if err != nil {
		t.Fatalf("CachedDirectory() error = %v", err)
	}
	if string(body) != "first" {
		t.Errorf("body = %q, want %q", body, "first")
	}
	if time.Since(fetchedAt) > time.Minute {
		t.Errorf("fetched_at = %v, want recent", fetchedAt)
	}

	// A second fetch for the same URL replaces the stored copy.
	if err := s.CacheDirectory(ctx, url, []byte("second")); err != nil {
		t.Fatalf("CacheDirectory() replace error = %v", err)
	}
	body, _, err = s.CachedDirectory(ctx, url, time.Hour)
	if err != nil {
		t.Fatalf("CachedDirectory() error = %v", err)
	}
	if string(body) != "second" {
		t.Errorf("body = %q, want %q", body, "second")
	}
}

func TestStore_DirectoryCacheExpiry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	url := "https://example.org/feed"

	if err := s.CacheDirectory(ctx, url, []byte("stale")); err != nil {
		t.Fatalf("CacheDirectory() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, _, err := s.CachedDirectory(ctx, url, 10*time.Millisecond); !errors.Is(err, common.ErrDirectoryUnavailable) {
		t.Errorf("stale cache error = %v, want ErrDirectoryUnavailable", err)
	}
	// A zero maxAge disables the age check.
	if _, _, err := s.CachedDirectory(ctx, url, 0); err != nil {
		t.Errorf("maxAge 0 should not expire, got %v", err)
	}
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	rec := SessionRecord{
		ID: "persisted", Host: "1.1.1.1", CountryCode: "JP",
		Result: "established-and-used", StartedAt: time.Now(), EndedAt: time.Now(),
	}
	if err := s.RecordSession(ctx, rec); err != nil {
		t.Fatalf("RecordSession() error = %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()
	got, err := s2.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "persisted" {
		t.Errorf("reopened store rows = %+v, want the persisted record", got)
	}
}
