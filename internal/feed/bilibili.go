package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	bilibiliSourceName   = "bilibili"
	bilibiliAPIBase      = "https://api.vc.bilibili.com"
	bilibiliFetchTimeout = 30 * time.Second

	// upstream dynamic type codes
	typeRepost  = 1
	typePicture = 2
	typeText    = 4
	typeVideo   = 8
)

// bilibiliAPIBaseURL allows tests to override the API endpoint.
var bilibiliAPIBaseURL = bilibiliAPIBase

// Credential holds the session cookies for an authenticated client.
// A nil credential yields a guest client with reduced capability.
type Credential struct {
	SESSDATA string
	BiliJCT  string
	Buvid3   string
}

// BilibiliSource fetches the dynamics page of one tracked account.
type BilibiliSource struct {
	uid    int64
	cred   *Credential
	client *http.Client
}

// NewBilibili creates a source for one account's dynamics. cred may be
// nil for guest mode.
func NewBilibili(uid int64, cred *Credential) (*BilibiliSource, error) {
	if uid <= 0 {
		return nil, fmt.Errorf("bilibili: invalid uid %d", uid)
	}
	return &BilibiliSource{
		uid:    uid,
		cred:   cred,
		client: &http.Client{Timeout: bilibiliFetchTimeout},
	}, nil
}

func (b *BilibiliSource) Name() string {
	return bilibiliSourceName
}

func (b *BilibiliSource) FeedID() string {
	return bilibiliSourceName + "/" + strconv.FormatInt(b.uid, 10)
}

// Authenticated reports whether the source carries session cookies.
func (b *BilibiliSource) Authenticated() bool {
	return b.cred != nil && b.cred.SESSDATA != ""
}

type spaceHistoryResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Cards []dynamicCard `json:"cards"`
	} `json:"data"`
}

type dynamicCard struct {
	Desc struct {
		DynamicID   int64 `json:"dynamic_id"`
		Type        int   `json:"type"`
		Timestamp   int64 `json:"timestamp"`
		UserProfile struct {
			Info struct {
				Uname string `json:"uname"`
			} `json:"info"`
		} `json:"user_profile"`
	} `json:"desc"`
	// Card is a JSON document whose shape depends on Desc.Type.
	Card string `json:"card"`
}

func (b *BilibiliSource) Recent(ctx context.Context) ([]Item, error) {
	q := url.Values{}
	q.Set("host_uid", strconv.FormatInt(b.uid, 10))
	q.Set("offset_dynamic_id", "0")
	q.Set("need_top", "0")

	reqURL := bilibiliAPIBaseURL + "/dynamic_svr/v1/dynamic_svr/space_history?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if b.Authenticated() {
		req.Header.Set("Cookie", fmt.Sprintf("SESSDATA=%s; bili_jct=%s; buvid3=%s",
			b.cred.SESSDATA, b.cred.BiliJCT, b.cred.Buvid3))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bilibili: space_history uid %d: %w", b.uid, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: space_history uid %d: HTTP %d", ErrUpstreamProtocol, b.uid, resp.StatusCode)
	}

	var page spaceHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: space_history uid %d: %v", ErrUpstreamProtocol, b.uid, err)
	}
	if page.Code != 0 {
		return nil, fmt.Errorf("%w: space_history uid %d: code %d %s", ErrUpstreamProtocol, b.uid, page.Code, page.Message)
	}

	items := make([]Item, 0, len(page.Data.Cards))
	for _, card := range page.Data.Cards {
		items = append(items, parseCard(card))
	}
	return items, nil
}

// payload shapes inside a card document, by type code

type repostCard struct {
	Item struct {
		Content string `json:"content"`
	} `json:"item"`
	Origin string `json:"origin"` // nested JSON document
}

type originCard struct {
	Item struct {
		Description string `json:"description"`
		Content     string `json:"content"`
	} `json:"item"`
}

type pictureCard struct {
	Item struct {
		Description string `json:"description"`
		Pictures    []struct {
			ImgSrc string `json:"img_src"`
		} `json:"pictures"`
	} `json:"item"`
}

type textCard struct {
	Item struct {
		Content string `json:"content"`
	} `json:"item"`
}

type videoCard struct {
	Title     string `json:"title"`
	Desc      string `json:"desc"`
	ShortLink string `json:"short_link"`
	Pic       string `json:"pic"`
}

// parseCard interprets one card by its type code. A card payload that
// fails to parse degrades to KindUnknown rather than erroring, so one
// bad card never blocks the rest of the page or stalls the watermark.
func parseCard(card dynamicCard) Item {
	item := Item{
		ID:       card.Desc.DynamicID,
		RawType:  card.Desc.Type,
		Author:   card.Desc.UserProfile.Info.Uname,
		PostedAt: time.Unix(card.Desc.Timestamp, 0),
		URL:      fmt.Sprintf("https://t.bilibili.com/%d", card.Desc.DynamicID),
		Kind:     KindUnknown,
	}

	switch card.Desc.Type {
	case typeRepost:
		var rc repostCard
		if err := json.Unmarshal([]byte(card.Card), &rc); err != nil {
			return item
		}
		item.Kind = KindRepost
		item.Text = rc.Item.Content
		if rc.Origin != "" {
			var oc originCard
			if err := json.Unmarshal([]byte(rc.Origin), &oc); err == nil {
				item.Origin = oc.Item.Description
				if item.Origin == "" {
					item.Origin = oc.Item.Content
				}
			}
		}

	case typePicture:
		var pc pictureCard
		if err := json.Unmarshal([]byte(card.Card), &pc); err != nil {
			return item
		}
		item.Kind = KindPicture
		item.Text = pc.Item.Description
		for _, p := range pc.Item.Pictures {
			if p.ImgSrc != "" {
				item.Images = append(item.Images, p.ImgSrc)
			}
		}

	case typeText:
		var tc textCard
		if err := json.Unmarshal([]byte(card.Card), &tc); err != nil {
			return item
		}
		item.Kind = KindText
		item.Text = tc.Item.Content

	case typeVideo:
		var vc videoCard
		if err := json.Unmarshal([]byte(card.Card), &vc); err != nil {
			return item
		}
		item.Kind = KindVideo
		item.Title = vc.Title
		item.Description = vc.Desc
		if vc.ShortLink != "" {
			item.URL = vc.ShortLink
		}
		item.Cover = vc.Pic
	}

	return item
}
