// Package uploader ships pending screenshots to the collection server
// over HTTP, optionally through a SOCKS proxy. Uploads are sequential
// and each file is attempted once per batch; anything unconfirmed
// stays in the pending set for the next cycle.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/shotlog/shotlog/internal/fs"
	"github.com/shotlog/shotlog/internal/shot"
)

const defaultTimeout = 60 * time.Second

// RejectedError reports a response the server answered but refused.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected upload: status %d: %s", e.Status, e.Body)
}

// Options configures a Client.
type Options struct {
	ServerURL string
	Password  string
	Username  string
	// ProxyURL routes uploads through a SOCKS proxy when set, e.g.
	// socks5h://127.0.0.1:9050 for Tor.
	ProxyURL string
	Timeout  time.Duration
}

// Client uploads screenshot files to the /api/upload endpoint.
type Client struct {
	endpoint   string
	credential string
	principal  string
	http       *http.Client
	log        *slog.Logger
}

// New builds a client. The proxy URL, when present, must parse and
// name a scheme the SOCKS dialer understands.
func New(opts Options, log *slog.Logger) (*Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpc := &http.Client{Timeout: timeout}

	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("building proxy dialer: %w", err)
		}
		tr := &http.Transport{}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		httpc.Transport = tr
	}

	return &Client{
		endpoint:   strings.TrimSuffix(opts.ServerURL, "/") + "/api/upload",
		credential: opts.Password,
		principal:  opts.Username,
		http:       httpc,
		log:        log,
	}, nil
}

// UploadBatch attempts each file once, in order, and returns the set
// of paths confirmed off this machine. A canceled context stops the
// batch early; untried files simply stay pending.
func (c *Client) UploadBatch(ctx context.Context, batch []string) map[string]struct{} {
	c.log.Info("uploading batch", "count", len(batch))
	confirmed := make(map[string]struct{}, len(batch))

	for i, path := range batch {
		if ctx.Err() != nil {
			c.log.Warn("upload batch interrupted", "remaining", len(batch)-i)
			break
		}
		ok, err := c.Upload(ctx, path)
		if err != nil {
			var rej *RejectedError
			if errors.As(err, &rej) {
				c.log.Warn("upload rejected", "file", path, "status", rej.Status)
			} else {
				c.log.Error("upload failed", "file", path, "error", err)
			}
		}
		if ok {
			confirmed[path] = struct{}{}
		}
	}

	c.log.Info("batch finished", "uploaded", len(confirmed), "failed", len(batch)-len(confirmed))
	return confirmed
}

// Upload sends one file. It reports true when the local copy is gone:
// either the server confirmed the upload and the file was removed, or
// the file had already vanished from disk. On false the file remains
// pending.
func (c *Client) Upload(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.log.Warn("pending file missing locally, dropping", "file", path)
			return true, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	day, err := shot.DayKeyFor(path)
	if err != nil {
		return false, fmt.Errorf("deriving day for %s: %w", path, err)
	}

	body, contentType, err := c.encodeForm(filepath.Base(path), day, data)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Upload-Password", c.credential)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("posting %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, &RejectedError{Status: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("removing uploaded %s: %w", path, err)
	}
	c.log.Info("uploaded screenshot", "file", filepath.Base(path), "day", day)
	return true, nil
}

func (c *Client) encodeForm(name, day string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("username", c.principal); err != nil {
		return nil, "", fmt.Errorf("encoding form: %w", err)
	}
	if err := w.WriteField("day", day); err != nil {
		return nil, "", fmt.Errorf("encoding form: %w", err)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", fmt.Errorf("encoding form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("encoding form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("encoding form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
