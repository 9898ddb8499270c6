package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Example Blog</title>
<item>
  <title>Older post</title>
  <link>https://blog.example.com/older</link>
  <description>first</description>
  <pubDate>%s</pubDate>
</item>
<item>
  <title>Newer post</title>
  <link>https://blog.example.com/newer</link>
  <description>second</description>
  <pubDate>%s</pubDate>
</item>
</channel>
</rss>`

func TestNewRSS(t *testing.T) {
	if _, err := NewRSS(""); err == nil {
		t.Fatal("expected error for empty feed URL")
	}
}

func TestRSSRecent(t *testing.T) {
	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, rssTemplate,
			older.Format(time.RFC1123Z), newer.Format(time.RFC1123Z))
	}))
	defer ts.Close()

	src, err := NewRSS(ts.URL)
	if err != nil {
		t.Fatalf("NewRSS: %v", err)
	}
	if src.Name() != "rss" {
		t.Errorf("name = %q", src.Name())
	}

	items, err := src.Recent(context.Background())
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	// Newest first, sequence ID is the published unix time.
	if items[0].ID != newer.Unix() || items[1].ID != older.Unix() {
		t.Errorf("ids = [%d, %d], want [%d, %d]", items[0].ID, items[1].ID, newer.Unix(), older.Unix())
	}
	if items[0].Kind != KindText {
		t.Errorf("kind = %q, want text", items[0].Kind)
	}
	if items[0].Author != "Example Blog" {
		t.Errorf("author = %q", items[0].Author)
	}
	if items[0].URL != "https://blog.example.com/newer" {
		t.Errorf("url = %q", items[0].URL)
	}
}

func TestRSSRecentError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	src, _ := NewRSS(ts.URL)
	if _, err := src.Recent(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}
