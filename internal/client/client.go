package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/johann/assetview/internal/config"
	"github.com/johann/assetview/internal/manifest"
)

// Client is an HTTP client for the asset server
type Client struct {
	http *resty.Client
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Details != "" {
		return fmt.Sprintf("server returned %d: %s (%s)", e.Status, msg, e.Details)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, msg)
}

// DirEntry is one item of a remote directory listing.
type DirEntry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	Dir     bool      `json:"dir"`
	URL     string    `json:"url,omitempty"`
}

// DirListing is a remote directory listing.
type DirListing struct {
	Path    string     `json:"path"`
	Entries []DirEntry `json:"entries"`
}

// SampleResult is a random selection of assets.
type SampleResult struct {
	Assets []manifest.Asset `json:"assets"`
	Total  int              `json:"total"`
	Seed   uint64           `json:"seed"`
}

// New creates a new client from config
func New(cfg *config.ClientConfig) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("server URL not configured. Run 'assetview login <server-url>'")
	}

	r := resty.New().
		SetBaseURL(cfg.ServerURL).
		SetTimeout(5 * time.Minute).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		r.SetAuthToken(cfg.Token)
	}

	return &Client{http: r}, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.getJSON(ctx, "/api/health", nil, nil)
	return err
}

// Manifest returns every asset the server's manifest lists, optionally
// restricted to one category.
func (c *Client) Manifest(ctx context.Context, category string) (*manifest.Listing, error) {
	var out manifest.Listing
	if _, err := c.getJSON(ctx, "/api/manifest", categoryQuery(category), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sample asks the server for n random assets. A nil seed lets the server pick one.
func (c *Client) Sample(ctx context.Context, n int, seed *uint64, category string) (*SampleResult, error) {
	q := categoryQuery(category)
	if n > 0 {
		q["n"] = strconv.Itoa(n)
	}
	if seed != nil {
		q["seed"] = strconv.FormatUint(*seed, 10)
	}

	var out SampleResult
	if _, err := c.getJSON(ctx, "/api/sample", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns the remote directory dir, relative to the served root.
func (c *Client) List(ctx context.Context, dir string) (*DirListing, error) {
	var out DirListing
	if _, err := c.getJSON(ctx, "/api/list", map[string]string{"path": dir}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Download streams the asset at urlPath (for example /data/lego/a/model.glb) into w.
func (c *Client) Download(ctx context.Context, urlPath string, w io.Writer) (int64, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "*/*").
		Get(urlPath)
	if err != nil {
		return 0, err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode()}
		data, _ := io.ReadAll(io.LimitReader(body, 64*1024))
		_ = decodeError(data, apiErr)
		return 0, apiErr
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", urlPath, err)
	}
	return n, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query map[string]string, out any) (*resty.Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetError(&APIError{})
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		apiErr, _ := resp.Error().(*APIError)
		if apiErr == nil {
			apiErr = &APIError{}
		}
		apiErr.Status = resp.StatusCode()
		return resp, apiErr
	}
	return resp, nil
}

func categoryQuery(category string) map[string]string {
	q := map[string]string{}
	if category != "" {
		q["category"] = category
	}
	return q
}
