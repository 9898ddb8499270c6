// Package dispatch owns what happens to a rendered artifact: record it
// in the audit index and hand its document to the destination client.
// Keeping this out of the renderer makes delivery swappable in tests.
package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ppiankov/relaypan/internal/feed"
	"github.com/ppiankov/relaypan/internal/feishu"
	"github.com/ppiankov/relaypan/internal/render"
	"github.com/ppiankov/relaypan/internal/store"
)

// Uploader sends a local file to a destination folder.
type Uploader interface {
	UploadFile(ctx context.Context, localPath, folderToken string) (feishu.Result, error)
}

// Dispatcher renders items and delivers the resulting documents. A nil
// uploader leaves artifacts on disk without delivery (render-only
// mode); a nil store skips audit recording.
type Dispatcher struct {
	renderer *render.Renderer
	uploader Uploader
	folder   string
	store    *store.Store
	log      zerolog.Logger
}

// New creates a dispatcher delivering into folder.
func New(renderer *render.Renderer, uploader Uploader, folder string, st *store.Store, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		renderer: renderer,
		uploader: uploader,
		folder:   folder,
		store:    st,
		log:      log,
	}
}

// HandleItem implements monitor.Handler. Audit-store failures are
// logged but never block delivery; a delivery failure is returned so
// the monitor can log it, and does not poison the next item.
func (d *Dispatcher) HandleItem(ctx context.Context, feedID string, item feed.Item) error {
	art, err := d.renderer.Render(ctx, item)
	if err != nil {
		return fmt.Errorf("render item %d: %w", item.ID, err)
	}

	if d.store != nil {
		err := d.store.InsertArtifact(ctx, store.ArtifactInput{
			Feed:    feedID,
			ItemID:  item.ID,
			Kind:    string(item.Kind),
			Author:  item.Author,
			DocPath: art.DocPath,
		})
		if err != nil {
			d.log.Error().Err(err).Str("feed", feedID).Int64("item", item.ID).Msg("record artifact failed")
		}
	}

	if d.uploader == nil {
		return nil
	}

	res, err := d.uploader.UploadFile(ctx, art.DocPath, d.folder)
	d.recordTransfer(ctx, art.DocPath, err)
	if err != nil {
		return fmt.Errorf("deliver %s: %w", art.DocPath, err)
	}
	d.log.Info().Str("doc", art.DocPath).Int("code", res.Code).Msg("artifact delivered")
	return nil
}

func (d *Dispatcher) recordTransfer(ctx context.Context, reference string, uploadErr error) {
	if d.store == nil {
		return
	}
	in := store.TransferInput{
		Reference: reference,
		Direction: store.DirectionPush,
		Status:    "success",
	}
	if uploadErr != nil {
		in.Status = "error"
		in.Message = uploadErr.Error()
	}
	if err := d.store.RecordTransfer(ctx, in); err != nil {
		d.log.Error().Err(err).Str("reference", reference).Msg("record transfer failed")
	}
}
