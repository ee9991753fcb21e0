// Package backend is the HTTP client for the coverage computation service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-coverage/internal/service"
)

// DefaultTimeout bounds every backend request.
const DefaultTimeout = 60 * time.Second

// maxBody caps decoded response bodies.
const maxBody = 256 << 20

const statusSuccess = "success"

// Client calls the computation service. It implements service.Backend.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the request timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// geometryPayload is the shared success body of /process and /new_buffer.
type geometryPayload struct {
	Status       string                     `json:"status"`
	RequestID    string                     `json:"request_id"`
	Stops        *geojson.FeatureCollection `json:"stops"`
	CoverageArea *geojson.FeatureCollection `json:"coverage_area"`
	Population   *geojson.FeatureCollection `json:"population"`
	Errors       []string                   `json:"errors"`
	Message      string                     `json:"message"`
}

func (p *geometryPayload) collections() service.Collections {
	return service.Collections{
		Stops:        p.Stops,
		CoverageArea: p.CoverageArea,
		Population:   p.Population,
	}
}

// Process uploads the GTFS and population files.
func (c *Client) Process(ctx context.Context, gtfs, population service.Upload) (*service.IngestResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct {
		field string
		up    service.Upload
	}{
		{"gtfsFile", gtfs},
		{"populationFile", population},
	} {
		w, err := mw.CreateFormFile(part.field, part.up.Name)
		if err != nil {
			return nil, fmt.Errorf("creating form file: %w", err)
		}
		if part.up.Body != nil {
			if _, err := io.Copy(w, part.up.Body); err != nil {
				return nil, fmt.Errorf("reading %s: %w", part.field, err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var p geometryPayload
	if _, err := c.do(req, &p); err != nil {
		return nil, err
	}
	if p.Status != statusSuccess {
		return nil, &service.ApplicationError{Messages: nonEmpty(p.Errors, p.Message)}
	}
	return &service.IngestResult{Handle: p.RequestID, Collections: p.collections()}, nil
}

// NewBuffer recomputes the geometry collections for a new coverage radius.
func (c *Client) NewBuffer(ctx context.Context, handle string, buffer int) (*service.Collections, error) {
	payload, err := json.Marshal(map[string]any{"cache_id": handle, "buffer": buffer})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/new_buffer", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var p geometryPayload
	if _, err := c.do(req, &p); err != nil {
		return nil, err
	}
	if p.Status != statusSuccess {
		return nil, &service.ApplicationError{Messages: nonEmpty(nil, p.Message)}
	}
	col := p.collections()
	return &col, nil
}

// GenerateClusters fetches uncovered-population clusters. A null body
// returns a nil collection and no error.
func (c *Client) GenerateClusters(ctx context.Context, handle string, coverage, minpop int) (*geojson.FeatureCollection, error) {
	q := url.Values{}
	q.Set("cache_id", handle)
	q.Set("coverage", strconv.Itoa(coverage))
	q.Set("minpop", strconv.Itoa(minpop))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generate_clusters?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	code, err := c.do(req, &raw)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var status struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(trimmed, &status); err == nil && status.Status != "" && status.Status != statusSuccess {
		return nil, &service.ApplicationError{Messages: nonEmpty(nil, status.Message)}
	}
	if !successful(code) {
		return nil, &service.TransportError{Err: fmt.Errorf("GET /generate_clusters: status %d", code)}
	}

	fc, err := geojson.UnmarshalFeatureCollection(trimmed)
	if err != nil {
		return nil, &service.ApplicationError{Messages: []string{service.MsgMalformedResponse}}
	}
	return fc, nil
}

// do sends req and decodes the JSON body into v whatever the status code, so
// server-provided messages on 4xx/5xx reach the caller. An empty body leaves
// v untouched.
func (c *Client) do(req *http.Request, v any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &service.TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, &service.TransportError{Err: fmt.Errorf("reading response: %w", err)}
	}

	ok := successful(resp.StatusCode)
	if len(bytes.TrimSpace(data)) == 0 {
		if !ok {
			return resp.StatusCode, &service.TransportError{Err: fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)}
		}
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		if !ok {
			return resp.StatusCode, &service.TransportError{Err: fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)}
		}
		c.log.Warn("malformed backend response", "path", req.URL.Path, "err", err)
		return resp.StatusCode, &service.ApplicationError{Messages: []string{service.MsgMalformedResponse}}
	}
	if !ok {
		c.log.Debug("backend returned error status", "path", req.URL.Path, "status", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func successful(code int) bool {
	return code >= 200 && code < 300
}

func nonEmpty(msgs []string, msg string) []string {
	if len(msgs) > 0 {
		return msgs
	}
	if msg != "" {
		return []string{msg}
	}
	return []string{service.MsgUnknownServerError}
}
