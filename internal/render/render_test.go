package render

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/relaypan/internal/feed"
)

func testItem(kind feed.Kind) feed.Item {
	return feed.Item{
		ID:       4242,
		Kind:     kind,
		Author:   "Some Author",
		PostedAt: time.Date(2026, 4, 1, 12, 30, 0, 0, time.UTC),
		URL:      "https://t.example.com/4242",
	}
}

func readDoc(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	return string(data)
}

func TestRenderText(t *testing.T) {
	r := New(t.TempDir(), zerolog.Nop())
	item := testItem(feed.KindText)
	item.Text = "hello from the feed"

	art, err := r.Render(context.Background(), item)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	doc := readDoc(t, art.DocPath)
	if !strings.Contains(doc, "hello from the feed") {
		t.Errorf("document missing text body:\n%s", doc)
	}
	if !strings.Contains(doc, "Some Author") {
		t.Errorf("document missing author:\n%s", doc)
	}
	if !strings.Contains(doc, "[Source](https://t.example.com/4242)") {
		t.Errorf("document missing source link:\n%s", doc)
	}
	if len(art.Attachments) != 0 {
		t.Errorf("text item produced attachments: %v", art.Attachments)
	}
}

func TestRenderRepost(t *testing.T) {
	r := New(t.TempDir(), zerolog.Nop())
	item := testItem(feed.KindRepost)
	item.Origin = "the original description"
	item.Text = "my two cents"

	art, err := r.Render(context.Background(), item)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	doc := readDoc(t, art.DocPath)
	if !strings.Contains(doc, "> the original description") {
		t.Errorf("document missing quoted origin:\n%s", doc)
	}
	if !strings.Contains(doc, "Comment: my two cents") {
		t.Errorf("document missing comment:\n%s", doc)
	}
}

func TestRenderPicture(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "broken.png") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("imagedata"))
	}))
	defer ts.Close()

	t.Run("attachments fetched and numbered", func(t *testing.T) {
		root := t.TempDir()
		r := New(root, zerolog.Nop())
		item := testItem(feed.KindPicture)
		item.Text = "caption here"
		item.Images = []string{ts.URL + "/a.jpg", ts.URL + "/b.png"}

		art, err := r.Render(context.Background(), item)
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		if len(art.Attachments) != 2 {
			t.Fatalf("got %d attachments, want 2", len(art.Attachments))
		}
		first := filepath.Base(art.Attachments[0])
		if !strings.Contains(first, "_img_1") || !strings.HasSuffix(first, ".jpg") {
			t.Errorf("first attachment name = %q", first)
		}
		doc := readDoc(t, art.DocPath)
		if !strings.Contains(doc, "![img](images/") {
			t.Errorf("document missing local image refs:\n%s", doc)
		}
	})

	t.Run("failed download falls back to the remote URL", func(t *testing.T) {
		root := t.TempDir()
		r := New(root, zerolog.Nop())
		item := testItem(feed.KindPicture)
		item.Text = "caption"
		item.Images = []string{ts.URL + "/broken.png"}

		art, err := r.Render(context.Background(), item)
		if err != nil {
			t.Fatalf("Render must not fail on a bad attachment: %v", err)
		}
		if len(art.Attachments) != 0 {
			t.Errorf("failed download still produced attachments: %v", art.Attachments)
		}
		doc := readDoc(t, art.DocPath)
		if !strings.Contains(doc, "![img]("+ts.URL+"/broken.png)") {
			t.Errorf("document should reference the original URL:\n%s", doc)
		}
	})
}

func TestRenderVideo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("coverdata"))
	}))
	defer ts.Close()

	r := New(t.TempDir(), zerolog.Nop())
	item := testItem(feed.KindVideo)
	item.Title = "A Video"
	item.Description = "about things"
	item.Cover = ts.URL + "/cover.jpg"

	art, err := r.Render(context.Background(), item)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	doc := readDoc(t, art.DocPath)
	if !strings.Contains(doc, "**[Video]** A Video") {
		t.Errorf("document missing video title:\n%s", doc)
	}
	if len(art.Attachments) != 1 {
		t.Errorf("got %d attachments, want 1 cover", len(art.Attachments))
	}
}

func TestRenderUnknown(t *testing.T) {
	r := New(t.TempDir(), zerolog.Nop())
	item := testItem(feed.KindUnknown)
	item.RawType = 64

	art, err := r.Render(context.Background(), item)
	if err != nil {
		t.Fatalf("unknown kind must not error: %v", err)
	}
	doc := readDoc(t, art.DocPath)
	if !strings.Contains(doc, "Unsupported item type 64") {
		t.Errorf("document missing placeholder:\n%s", doc)
	}
}

func TestBaseNameDeterminism(t *testing.T) {
	item := testItem(feed.KindText)
	a := BaseName(item)
	b := BaseName(item)
	if a != b {
		t.Errorf("BaseName not deterministic: %q vs %q", a, b)
	}
	if a != "[2026-04-01_12-30] Some Author_4242" {
		t.Errorf("BaseName = %q", a)
	}
}

func TestSanitizeAuthor(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Some Author", "Some Author"},
		{"weird/na:me*", "weirdname"},
		{"under_score-ok", "under_score-ok"},
		{"  spaced  ", "spaced"},
		{"电影博主", "电影博主"},
	}
	for _, tc := range cases {
		if got := sanitizeAuthor(tc.in); got != tc.want {
			t.Errorf("sanitizeAuthor(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestImageExt(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://img.example.com/a.jpg", ".jpg"},
		{"https://img.example.com/a.png?size=big", ".png"},
		{"https://img.example.com/noext", ".jpg"},
	}
	for _, tc := range cases {
		if got := imageExt(tc.in); got != tc.want {
			t.Errorf("imageExt(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
