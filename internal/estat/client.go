// Package estat is a minimal client for the e-Stat REST API (3.0).
package estat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/sjhoshi/estatdl/internal/domain"
	"github.com/sjhoshi/estatdl/internal/fetch"
)

const metaInfoPath = "/rest/3.0/app/json/getMetaInfo"

type Options struct {
	// BaseURL of the API host. Default: https://api.e-stat.go.jp
	BaseURL string

	// AppID is the API key (e-Stat application ID). Required.
	AppID string

	// RatePerSec throttles outgoing requests. Default: 10.
	RatePerSec float64
}

type Client struct {
	baseURL string
	appID   string
	http    *fetch.Client
	limiter *rate.Limiter
}

// New builds a client. The key is explicit configuration, never read from
// the environment here, which keeps the client testable.
func New(httpClient *fetch.Client, opts Options) (*Client, error) {
	if opts.AppID == "" {
		return nil, domain.ErrAPIKeyMissing
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.e-stat.go.jp"
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}

	return &Client{
		baseURL: opts.BaseURL,
		appID:   opts.AppID,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}, nil
}

// MetaInfo fetches the metadata document for one statistical table and
// returns it re-indented, ready to write to disk.
func (c *Client) MetaInfo(ctx context.Context, statsDataID string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("appId", c.appID)
	params.Set("statsDataId", statsDataID)

	body, err := c.http.Get(ctx, c.baseURL+metaInfoPath+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return nil, fmt.Errorf("invalid JSON response for %s: %w", statsDataID, err)
	}
	return pretty.Bytes(), nil
}
