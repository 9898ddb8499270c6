// Package feishu is the destination-store client: tenant token
// exchange with lazy caching, and size-branched file upload.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://open.feishu.cn/open-apis"

	// Files at or above this size go through the chunked upload flow;
	// upload_all rejects anything larger.
	smallUploadLimit = 20 << 20

	// Refresh the cached token slightly before its declared expiry.
	tokenSlack = 60 * time.Second

	requestTimeout = 5 * time.Minute
)

// Result is the destination API's structured response. Code 0 is
// success; any other code, including the -1 transport sentinel, is a
// failure the caller must propagate.
type Result struct {
	Code int            `json:"code"`
	Msg  string         `json:"msg"`
	Data map[string]any `json:"data,omitempty"`
}

// Client uploads files into a destination folder. The cached access
// token is the only mutable shared state; it is replaced as a whole
// value, and concurrent duplicate refreshes are tolerated (the
// exchange is idempotent and cheap next to a file transfer).
type Client struct {
	appID     string
	appSecret string
	baseURL   string
	client    *http.Client
	log       zerolog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates a client for the given app credential.
func New(appID, appSecret string, log zerolog.Logger) (*Client, error) {
	if appID == "" || appSecret == "" {
		return nil, errors.New("feishu: app id and secret are required")
	}
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		baseURL:   defaultBaseURL,
		client:    &http.Client{Timeout: requestTimeout},
		log:       log,
	}, nil
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int64  `json:"expire"`
}

// AccessToken returns the cached tenant token while fresh, otherwise
// performs one credential exchange and caches the result with its
// declared expiry. The exchange happens outside the lock; racing
// refreshes simply overwrite each other (last write wins).
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSlack)) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	body, err := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	if tr.Code != 0 {
		return "", fmt.Errorf("token exchange: code %d: %s", tr.Code, tr.Msg)
	}

	c.mu.Lock()
	c.token = tr.TenantAccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.Expire) * time.Second)
	c.mu.Unlock()

	c.log.Debug().Int64("expire", tr.Expire).Msg("access token refreshed")
	return tr.TenantAccessToken, nil
}

// UploadFile uploads localPath into folderToken, choosing the
// single-shot path for small files and the chunked flow otherwise. A
// non-zero result code is returned as an error alongside the result.
func (c *Client) UploadFile(ctx context.Context, localPath, folderToken string) (Result, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return transportResult(err), fmt.Errorf("stat upload file: %w", err)
	}

	var res Result
	if info.Size() < smallUploadLimit {
		res, err = c.uploadAll(ctx, localPath, folderToken, info.Size())
	} else {
		res, err = c.uploadChunked(ctx, localPath, folderToken, info.Size())
	}
	if err != nil {
		return res, err
	}
	if res.Code != 0 {
		return res, fmt.Errorf("upload %s: code %d: %s", filepath.Base(localPath), res.Code, res.Msg)
	}
	return res, nil
}

// uploadAll performs the single whole-file upload call.
func (c *Client) uploadAll(ctx context.Context, localPath, folderToken string, size int64) (Result, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return transportResult(err), err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return transportResult(err), err
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"file_name":   filepath.Base(localPath),
		"parent_type": "explorer",
		"parent_node": folderToken,
		"size":        strconv.FormatInt(size, 10),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return transportResult(err), err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return transportResult(err), err
	}
	if _, err := io.Copy(part, f); err != nil {
		return transportResult(err), err
	}
	if err := mw.Close(); err != nil {
		return transportResult(err), err
	}

	return c.postMultipart(ctx, c.baseURL+"/drive/v1/files/upload_all", token, mw.FormDataContentType(), &buf)
}

type prepareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		UploadID  string `json:"upload_id"`
		BlockSize int64  `json:"block_size"`
		BlockNum  int    `json:"block_num"`
	} `json:"data"`
}

// uploadChunked runs the prepare / part / finish flow for large files.
// It shares nothing with the small-file path beyond the token.
func (c *Client) uploadChunked(ctx context.Context, localPath, folderToken string, size int64) (Result, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return transportResult(err), err
	}

	prepBody, err := json.Marshal(map[string]any{
		"file_name":   filepath.Base(localPath),
		"parent_type": "explorer",
		"parent_node": folderToken,
		"size":        size,
	})
	if err != nil {
		return transportResult(err), err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/drive/v1/files/upload_prepare", bytes.NewReader(prepBody))
	if err != nil {
		return transportResult(err), err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return transportResult(err), fmt.Errorf("upload prepare: %w", err)
	}
	var prep prepareResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&prep)
	_ = resp.Body.Close()
	if decodeErr != nil {
		return transportResult(decodeErr), fmt.Errorf("upload prepare: %w", decodeErr)
	}
	if prep.Code != 0 {
		return Result{Code: prep.Code, Msg: prep.Msg}, fmt.Errorf("upload prepare: code %d: %s", prep.Code, prep.Msg)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return transportResult(err), err
	}
	defer func() { _ = f.Close() }()

	chunk := make([]byte, prep.Data.BlockSize)
	for seq := 0; seq < prep.Data.BlockNum; seq++ {
		n, err := io.ReadFull(f, chunk)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return transportResult(err), fmt.Errorf("read chunk %d: %w", seq, err)
		}
		if n == 0 {
			break
		}
		if res, err := c.uploadPart(ctx, token, prep.Data.UploadID, seq, chunk[:n]); err != nil {
			return res, fmt.Errorf("upload part %d: %w", seq, err)
		}
	}

	finishBody, err := json.Marshal(map[string]any{
		"upload_id": prep.Data.UploadID,
		"block_num": prep.Data.BlockNum,
	})
	if err != nil {
		return transportResult(err), err
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/drive/v1/files/upload_finish", bytes.NewReader(finishBody))
	if err != nil {
		return transportResult(err), err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err = c.client.Do(req)
	if err != nil {
		return transportResult(err), fmt.Errorf("upload finish: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return transportResult(err), fmt.Errorf("upload finish: %w", err)
	}
	return res, nil
}

func (c *Client) uploadPart(ctx context.Context, token, uploadID string, seq int, chunk []byte) (Result, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"upload_id": uploadID,
		"seq":       strconv.Itoa(seq),
		"size":      strconv.Itoa(len(chunk)),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return transportResult(err), err
		}
	}
	part, err := mw.CreateFormFile("file", "chunk")
	if err != nil {
		return transportResult(err), err
	}
	if _, err := part.Write(chunk); err != nil {
		return transportResult(err), err
	}
	if err := mw.Close(); err != nil {
		return transportResult(err), err
	}

	res, err := c.postMultipart(ctx, c.baseURL+"/drive/v1/files/upload_part", token, mw.FormDataContentType(), &buf)
	if err != nil {
		return res, err
	}
	if res.Code != 0 {
		return res, fmt.Errorf("code %d: %s", res.Code, res.Msg)
	}
	return res, nil
}

func (c *Client) postMultipart(ctx context.Context, url, token, contentType string, body io.Reader) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return transportResult(err), err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return transportResult(err), err
	}
	defer func() { _ = resp.Body.Close() }()

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return transportResult(err), err
	}
	return res, nil
}

// transportResult wraps a transport-level failure in the structured
// result shape with the -1 sentinel code.
func transportResult(err error) Result {
	return Result{Code: -1, Msg: err.Error()}
}
