// Package feed defines the upstream item model and the sources that
// produce pages of recently published items.
package feed

import (
	"context"
	"errors"
	"time"
)

// ErrUpstreamProtocol indicates a feed response that could not be
// interpreted (bad status, non-zero API code, malformed payload).
var ErrUpstreamProtocol = errors.New("upstream protocol error")

// Kind classifies an item's payload. Unrecognized upstream type codes
// map to KindUnknown; that is a normal case, not an error.
type Kind string

const (
	KindRepost  Kind = "repost"
	KindPicture Kind = "picture"
	KindText    Kind = "text"
	KindVideo   Kind = "video"
	KindUnknown Kind = "unknown"
)

// Item is one record fetched from a feed. ID is unique and totally
// ordered within a feed; only the fields relevant to the item's Kind
// are populated.
type Item struct {
	ID       int64
	Kind     Kind
	RawType  int // upstream type code, kept for unknown kinds
	Author   string
	PostedAt time.Time
	URL      string // link to the original item

	Text   string   // text content, caption, or repost comment
	Origin string   // repost: description of the reposted item
	Images []string // picture: image URLs in source order

	// video payload
	Title       string
	Description string
	Cover       string
}

// Source fetches the most recent page of items from one feed.
type Source interface {
	// Name returns the source kind (e.g. "bilibili").
	Name() string

	// FeedID uniquely identifies this feed among all registered feeds.
	FeedID() string

	// Recent returns the most recent page of items, newest first.
	Recent(ctx context.Context) ([]Item, error)
}
