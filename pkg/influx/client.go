// Package influx is a minimal client for the v1 HTTP API of the target
// time-series database: Ping for connectivity checks, Query for schema
// exploration, WriteLP for bulk line protocol writes.
package influx

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every request when the configuration does not set
// its own limit.
const DefaultTimeout = 30 * time.Second

// Options configure a Client.
type Options struct {
	// URL is the database base URL, e.g. https://influx.example.org:8086.
	URL      string
	Username string
	Password string

	// Timeout bounds each HTTP request, write submissions included.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification. The
	// monitoring hosts this tool runs against commonly sit behind
	// self-signed certificates.
	InsecureSkipVerify bool
}

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// New validates the options and builds a client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid database url %q", opts.URL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if opts.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		baseURL:  strings.TrimRight(opts.URL, "/"),
		username: opts.Username,
		password: opts.Password,
		client:   httpClient,
	}, nil
}

// URL returns the configured base URL.
func (c *Client) URL() string {
	return c.baseURL
}

// Ping checks that the database answers at all. Used as a startup gate:
// a run that cannot reach its database should fail before touching any
// archive.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return fmt.Errorf("failed to create ping request: %w", err)
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach database at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ping failed with status %d", resp.StatusCode)
	}
	return nil
}

// WriteLP posts a line protocol body to /write for the given database.
// precision uses the wire names ns, us, ms, s.
func (c *Client) WriteLP(ctx context.Context, db, precision string, body []byte) error {
	if precision == "us" {
		// The v1 API spells microseconds "u".
		precision = "u"
	}

	q := url.Values{}
	q.Set("db", db)
	q.Set("precision", precision)
	writeURL := c.baseURL + "/write?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, writeURL, strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to create write request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send write request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("write to %q failed with status %d: %s", db, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Series is one series block of a query result: the measurement name, the
// GROUP BY tag values, and the value rows in column order.
type Series struct {
	Name    string            `json:"name"`
	Tags    map[string]string `json:"tags"`
	Columns []string          `json:"columns"`
	Values  [][]any           `json:"values"`
}

type queryResponse struct {
	Results []struct {
		Series []Series `json:"series"`
		Err    string   `json:"error"`
	} `json:"results"`
	Err string `json:"error"`
}

// Query runs one InfluxQL statement against db and returns its series.
// Timestamps come back as epoch seconds (epoch=s).
func (c *Client) Query(ctx context.Context, db, statement string) ([]Series, error) {
	q := url.Values{}
	q.Set("db", db)
	q.Set("q", statement)
	q.Set("epoch", "s")
	queryURL := c.baseURL + "/query?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create query request: %w", err)
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	if decoded.Err != "" {
		return nil, fmt.Errorf("query rejected: %s", decoded.Err)
	}

	var series []Series
	for _, r := range decoded.Results {
		if r.Err != "" {
			return nil, fmt.Errorf("query rejected: %s", r.Err)
		}
		series = append(series, r.Series...)
	}
	return series, nil
}

func (c *Client) auth(req *http.Request) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}
