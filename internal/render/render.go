// Package render converts one feed item into a local artifact: a
// markdown document plus zero or more downloaded attachments.
package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/ppiankov/relaypan/internal/feed"
)

const (
	imagesDirName   = "images"
	defaultImageExt = ".jpg"
	fetchTimeout    = 10 * time.Second
)

// Artifact is the rendered representation of one item. The files are
// retained on disk as the audit copy; the core never deletes them.
type Artifact struct {
	Name        string   // deterministic base name, no extension
	DocPath     string   // path of the written markdown document
	Attachments []string // local paths of successfully fetched attachments
}

// renderFunc produces the document body and the attachment URLs for
// one item kind. Adding a kind is a table edit, not a control-flow
// change.
type renderFunc func(item feed.Item) (body string, images []string)

var renderTable = map[feed.Kind]renderFunc{
	feed.KindRepost:  renderRepost,
	feed.KindPicture: renderPicture,
	feed.KindText:    renderText,
	feed.KindVideo:   renderVideo,
}

// Renderer writes artifacts under root. It is safe for use from a
// single poller goroutine per instance.
type Renderer struct {
	root   string
	client *http.Client
	log    zerolog.Logger
}

// New creates a renderer rooted at dir.
func New(dir string, log zerolog.Logger) *Renderer {
	return &Renderer{
		root:   dir,
		client: &http.Client{Timeout: fetchTimeout},
		log:    log,
	}
}

// Render writes the item's document and attachments and returns the
// artifact. Unknown kinds render a placeholder document; they are
// never an error. A failed attachment download falls back to the
// remote URL in the document body and does not abort the render.
func (r *Renderer) Render(ctx context.Context, item feed.Item) (Artifact, error) {
	fn, ok := renderTable[item.Kind]
	if !ok {
		fn = renderUnknown
	}
	body, images := fn(item)

	name := BaseName(item)
	imagesDir := filepath.Join(r.root, imagesDirName)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dirs: %w", err)
	}

	var refs []string
	var fetched []string
	for i, imgURL := range images {
		local := fmt.Sprintf("%s_img_%d%s", name, i+1, imageExt(imgURL))
		dest := filepath.Join(imagesDir, local)
		if err := r.fetch(ctx, imgURL, dest); err != nil {
			r.log.Error().Err(err).Str("url", imgURL).Msg("attachment download failed")
			refs = append(refs, imgURL)
			continue
		}
		refs = append(refs, path.Join(imagesDirName, local))
		fetched = append(fetched, dest)
	}

	docPath := filepath.Join(r.root, name+".md")
	doc := document(item, body, refs)
	if err := os.WriteFile(docPath, []byte(doc), 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write document: %w", err)
	}

	return Artifact{Name: name, DocPath: docPath, Attachments: fetched}, nil
}

func (r *Renderer) fetch(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return err
	}
	return f.Close()
}

func document(item feed.Item, body string, imageRefs []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# New post by %s\n\n", item.Author)
	fmt.Fprintf(&sb, "**Time**: %s\n\n", item.PostedAt.Format("2006-01-02 15:04:05"))
	sb.WriteString(body)
	sb.WriteString("\n\n")

	if len(imageRefs) > 0 {
		sb.WriteString("**Images**:\n")
		for _, ref := range imageRefs {
			fmt.Fprintf(&sb, "![img](%s)\n", ref)
		}
	}

	if item.URL != "" {
		fmt.Fprintf(&sb, "\n[Source](%s)\n", item.URL)
	}
	return sb.String()
}

func renderRepost(item feed.Item) (string, []string) {
	var sb strings.Builder
	sb.WriteString("**[Repost]**\n\n")
	if item.Origin != "" {
		fmt.Fprintf(&sb, "> %s\n", item.Origin)
	}
	fmt.Fprintf(&sb, "\nComment: %s", item.Text)
	return sb.String(), nil
}

func renderPicture(item feed.Item) (string, []string) {
	return item.Text, item.Images
}

func renderText(item feed.Item) (string, []string) {
	return item.Text, nil
}

func renderVideo(item feed.Item) (string, []string) {
	body := fmt.Sprintf("**[Video]** %s\n%s\n[Link](%s)", item.Title, item.Description, item.URL)
	var images []string
	if item.Cover != "" {
		images = append(images, item.Cover)
	}
	return body, images
}

func renderUnknown(item feed.Item) (string, []string) {
	return fmt.Sprintf("**[Unsupported item type %d]**", item.RawType), nil
}

// BaseName derives the deterministic artifact name from the item's
// timestamp, sanitized author name, and identifier. Rendering the same
// item twice reproduces the same name.
func BaseName(item feed.Item) string {
	dateStr := item.PostedAt.Format("2006-01-02_15-04")
	return fmt.Sprintf("[%s] %s_%d", dateStr, sanitizeAuthor(item.Author), item.ID)
}

// sanitizeAuthor keeps letters, digits, spaces, hyphens, and
// underscores; everything else is stripped. Letters include non-ASCII
// display names.
func sanitizeAuthor(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

func imageExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultImageExt
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		return defaultImageExt
	}
	return ext
}
