// Package origin resolves a relay reference to a local file, either by
// verifying an already-local path or by streaming a download from the
// remote file-sharing service.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnconfigured indicates no usable account credential.
	ErrUnconfigured = errors.New("origin not configured")
	// ErrNotFound indicates a referenced local file is absent.
	ErrNotFound = errors.New("file not found")
	// ErrTransferFailed indicates a network or auth failure during download.
	ErrTransferFailed = errors.New("transfer failed")
)

const (
	pcsAppID     = "250528"
	pcsUserAgent = "netdisk;7.0.3.2;PC;PC-Windows;10.0.19041;WindowsBaiduYunGuanJia"
)

// pcsBaseURL allows tests to override the download endpoint.
var pcsBaseURL = "https://pcs.baidu.com/rest/2.0/pcs/file"

// Account holds the cookie credential of one file-sharing account.
type Account struct {
	BDUSS  string
	STOKEN string
}

// Resolver turns relay references into local file paths.
type Resolver struct {
	accounts    map[string]Account
	current     string
	downloadDir string
	client      *http.Client
	log         zerolog.Logger
}

// New creates a resolver. accounts may be empty; remote resolution
// then fails with ErrUnconfigured while local resolution still works.
func New(accounts map[string]Account, current, downloadDir string, log zerolog.Logger) *Resolver {
	return &Resolver{
		accounts:    accounts,
		current:     current,
		downloadDir: downloadDir,
		client:      &http.Client{Timeout: 10 * time.Minute},
		log:         log,
	}
}

// Configured reports whether at least one account credential is usable.
func (r *Resolver) Configured() bool {
	_, err := r.account()
	return err == nil
}

// account picks the explicitly designated current account, or the
// first configured account in stable (sorted-key) order when unset.
// The fallback is a stated policy, not map-iteration accident.
func (r *Resolver) account() (Account, error) {
	if r.current != "" {
		acct, ok := r.accounts[r.current]
		if !ok || acct.BDUSS == "" {
			return Account{}, fmt.Errorf("%w: current account %q has no credential", ErrUnconfigured, r.current)
		}
		return acct, nil
	}

	keys := make([]string, 0, len(r.accounts))
	for k := range r.accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if r.accounts[k].BDUSS != "" {
			return r.accounts[k], nil
		}
	}
	return Account{}, ErrUnconfigured
}

// Local verifies that path exists on local disk.
func (r *Resolver) Local(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return path, nil
}

// Resolve produces a local path for a reference: an existing local
// file is returned as-is, anything else is treated as a remote object
// path and downloaded.
func (r *Resolver) Resolve(ctx context.Context, reference string) (string, error) {
	if local, err := r.Local(reference); err == nil {
		return local, nil
	}
	return r.Fetch(ctx, reference)
}

// Fetch streams the remote object to <downloadDir>/<base name>. The
// transfer is chunked through io.Copy, so large files never require
// full in-memory buffering.
func (r *Resolver) Fetch(ctx context.Context, remotePath string) (string, error) {
	acct, err := r.account()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	localPath := filepath.Join(r.downloadDir, filepath.Base(remotePath))

	q := url.Values{}
	q.Set("method", "download")
	q.Set("path", remotePath)
	q.Set("app_id", pcsAppID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pcsBaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", pcsUserAgent)
	cookie := "BDUSS=" + acct.BDUSS
	if acct.STOKEN != "" {
		cookie += "; STOKEN=" + acct.STOKEN
	}
	req.Header.Set("Cookie", cookie)

	r.log.Info().Str("remote", remotePath).Str("local", localPath).Msg("downloading")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrTransferFailed, remotePath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s: HTTP %d", ErrTransferFailed, remotePath, resp.StatusCode)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(localPath)
		return "", fmt.Errorf("%w: %s: %v", ErrTransferFailed, remotePath, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close local file: %w", err)
	}
	return localPath, nil
}
