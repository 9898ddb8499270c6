package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/relaypan/internal/feed"
	"github.com/ppiankov/relaypan/internal/feishu"
	"github.com/ppiankov/relaypan/internal/render"
	"github.com/ppiankov/relaypan/internal/store"
)

type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeUploader) UploadFile(_ context.Context, localPath, _ string) (feishu.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, localPath)
	if f.err != nil {
		return feishu.Result{Code: -1, Msg: f.err.Error()}, f.err
	}
	return feishu.Result{Code: 0, Msg: "success"}, nil
}

func testItem() feed.Item {
	return feed.Item{
		ID:       77,
		Kind:     feed.KindText,
		Author:   "Writer",
		PostedAt: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
		Text:     "a short post",
	}
}

func TestHandleItem(t *testing.T) {
	t.Run("renders and delivers", func(t *testing.T) {
		renderer := render.New(t.TempDir(), zerolog.Nop())
		uploader := &fakeUploader{}
		d := New(renderer, uploader, "folder", nil, zerolog.Nop())

		if err := d.HandleItem(context.Background(), "bilibili/42", testItem()); err != nil {
			t.Fatalf("HandleItem: %v", err)
		}
		if len(uploader.calls) != 1 {
			t.Fatalf("uploaded %d files, want 1", len(uploader.calls))
		}
		if filepath.Ext(uploader.calls[0]) != ".md" {
			t.Errorf("uploaded %q, want the markdown document", uploader.calls[0])
		}
	})

	t.Run("delivery failure is surfaced", func(t *testing.T) {
		renderer := render.New(t.TempDir(), zerolog.Nop())
		uploader := &fakeUploader{err: errors.New("destination down")}
		d := New(renderer, uploader, "folder", nil, zerolog.Nop())

		if err := d.HandleItem(context.Background(), "bilibili/42", testItem()); err == nil {
			t.Fatal("expected delivery error")
		}
	})

	t.Run("render-only mode without uploader", func(t *testing.T) {
		renderer := render.New(t.TempDir(), zerolog.Nop())
		d := New(renderer, nil, "", nil, zerolog.Nop())

		if err := d.HandleItem(context.Background(), "bilibili/42", testItem()); err != nil {
			t.Fatalf("HandleItem without uploader: %v", err)
		}
	})

	t.Run("records artifact and transfer", func(t *testing.T) {
		st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		defer func() { _ = st.Close() }()

		renderer := render.New(t.TempDir(), zerolog.Nop())
		uploader := &fakeUploader{}
		d := New(renderer, uploader, "folder", st, zerolog.Nop())

		if err := d.HandleItem(context.Background(), "bilibili/42", testItem()); err != nil {
			t.Fatalf("HandleItem: %v", err)
		}

		ctx := context.Background()
		count, err := st.CountArtifacts(ctx)
		if err != nil {
			t.Fatalf("CountArtifacts: %v", err)
		}
		if count != 1 {
			t.Errorf("artifact count = %d, want 1", count)
		}
		transfers, err := st.RecentTransfers(ctx, 5)
		if err != nil {
			t.Fatalf("RecentTransfers: %v", err)
		}
		if len(transfers) != 1 || transfers[0].Direction != store.DirectionPush || transfers[0].Status != "success" {
			t.Errorf("transfers = %+v", transfers)
		}
	})
}
