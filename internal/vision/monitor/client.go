package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/banshee-data/loiter.report/internal/httputil"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
)

// Client reads a running monitor's JSON API.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for baseURL such as "http://localhost:8090".
// A nil hc uses http.DefaultClient.
func NewClient(baseURL string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if err := httputil.DecodeJSON(resp, out); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}

// Streams returns every stream snapshot.
func (c *Client) Streams(ctx context.Context) ([]pipeline.StreamSnapshot, error) {
	var out struct {
		Streams []pipeline.StreamSnapshot `json:"streams"`
	}
	if err := c.get(ctx, "/api/streams", nil, &out); err != nil {
		return nil, err
	}
	return out.Streams, nil
}

// History returns the ring view of one stream.
func (c *Client) History(ctx context.Context, streamID string) (HistoryView, error) {
	var out HistoryView
	err := c.get(ctx, "/api/streams/history", url.Values{"stream_id": {streamID}}, &out)
	return out, err
}
