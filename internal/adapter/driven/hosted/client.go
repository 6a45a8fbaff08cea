// Package hosted implements the hosted backend adapter against a service
// exposing PostgREST rows, object storage and realtime change feeds.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/datagate/internal/domain/model"
	"github.com/ericfisherdev/datagate/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.HostedClient = (*Client)(nil)

const (
	defaultTimeout           = 30 * time.Second
	defaultHeartbeatInterval = 30 * time.Second

	restPrefix    = "/rest/v1/"
	storagePrefix = "/storage/v1/object/"

	mediaSingleObject = "application/vnd.pgrst.object+json"
)

// ErrClientClosed is returned by Subscribe after Close.
var ErrClientClosed = errors.New("hosted client closed")

// Client is a handle bound to one set of hosted backend credentials.
type Client struct {
	creds   model.Credentials
	baseURL string
	http    *http.Client
	cache   *boundedCache
	logger  *slog.Logger

	dialer    *websocket.Dialer
	heartbeat time.Duration

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default transport stack. Intended for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the underlying http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger used for realtime diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHeartbeatInterval overrides the realtime heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeat = d
		}
	}
}

// NewClient creates a hosted client with the following transport stack:
//  1. httpcache over a bounded LRU (row reads always revalidate, downloads
//     are never stored)
//  2. go-github-ratelimit (sleeps on 429 and secondary rate limits)
//  3. http.Client with a request timeout
//
// Construction never fails. A malformed service URL is reported by the
// first request made with the handle.
func NewClient(creds model.Credentials, opts ...Option) *Client {
	cache := newBoundedCache(defaultCacheEntries)
	cacheTransport := httpcache.NewTransport(cache)
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	rateLimitClient.Timeout = defaultTimeout

	c := &Client{
		creds:     creds,
		cache:     cache,
		baseURL:   strings.TrimRight(strings.TrimSpace(creds.ServiceURL), "/"),
		http:      rateLimitClient,
		logger:    slog.Default(),
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		heartbeat: defaultHeartbeatInterval,
		subs:      make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credentials returns the credentials the handle was built with.
func (c *Client) Credentials() model.Credentials {
	return c.creds
}

// Probe performs a one-row read against table.
func (c *Client) Probe(ctx context.Context, table string) error {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("limit", "1")

	req, err := c.newRequest(ctx, "probe", http.MethodGet, restPrefix+url.PathEscape(table), query, nil)
	if err != nil {
		return err
	}
	_, _, err = c.do(req, "probe")
	return err
}

// Select returns the rows matching opts and the exact match count when the
// service reports one.
func (c *Client) Select(ctx context.Context, table string, opts model.SelectOptions) ([]model.Row, *int, error) {
	query, err := selectQuery(opts)
	if err != nil {
		return nil, nil, err
	}
	req, err := c.newRequest(ctx, "select", http.MethodGet, restPrefix+url.PathEscape(table), query, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Prefer", "count=exact")

	body, resp, err := c.do(req, "select")
	if err != nil {
		return nil, nil, err
	}
	rows, err := decodeRows("select", body)
	if err != nil {
		return nil, nil, err
	}
	return rows, parseContentRange(resp.Header.Get("Content-Range")), nil
}

// SelectSingle returns exactly one row. Zero or several matches are an error.
func (c *Client) SelectSingle(ctx context.Context, table string, opts model.SelectOptions) (model.Row, error) {
	query, err := selectQuery(opts)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, "select", http.MethodGet, restPrefix+url.PathEscape(table), query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", mediaSingleObject)

	body, _, err := c.do(req, "select")
	if err != nil {
		return nil, err
	}
	var row model.Row
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, decodeError("select", err)
	}
	return row, nil
}

// Insert creates rows and returns them as stored.
func (c *Client) Insert(ctx context.Context, table string, rows []model.Row) ([]model.Row, error) {
	return c.write(ctx, "insert", http.MethodPost, table, nil, rows, "return=representation")
}

// Upsert inserts rows or merges them into rows sharing the conflict column.
// An empty onConflict lets the service use the table's primary key.
func (c *Client) Upsert(ctx context.Context, table string, rows []model.Row, onConflict string) ([]model.Row, error) {
	var query url.Values
	if onConflict != "" {
		query = url.Values{}
		query.Set("on_conflict", onConflict)
	}
	return c.write(ctx, "upsert", http.MethodPost, table, query, rows, "return=representation,resolution=merge-duplicates")
}

// Update applies patch to every row matching filters.
func (c *Client) Update(ctx context.Context, table string, patch model.Row, filters model.Filters) ([]model.Row, error) {
	query, err := filterQuery("update", filters)
	if err != nil {
		return nil, err
	}
	return c.write(ctx, "update", http.MethodPatch, table, query, patch, "return=representation")
}

// Delete removes every row matching filters and returns the removed rows.
func (c *Client) Delete(ctx context.Context, table string, filters model.Filters) ([]model.Row, error) {
	query, err := filterQuery("delete", filters)
	if err != nil {
		return nil, err
	}
	return c.write(ctx, "delete", http.MethodDelete, table, query, nil, "return=representation")
}

func (c *Client) write(ctx context.Context, op, method, table string, query url.Values, payload any, prefer string) ([]model.Row, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &model.BackendError{Backend: model.BackendHosted, Op: op, Message: "encode request body", Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, op, method, restPrefix+url.PathEscape(table), query, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Prefer", prefer)

	respBody, _, err := c.do(req, op)
	if err != nil {
		return nil, err
	}
	return decodeRows(op, respBody)
}

// Upload stores blob at bucket/path, replacing any existing object.
func (c *Client) Upload(ctx context.Context, bucket, path string, blob model.Blob) (model.FileObject, error) {
	req, err := c.newRequest(ctx, "upload", http.MethodPost, objectPath(bucket, path), nil, bytes.NewReader(blob.Data))
	if err != nil {
		return model.FileObject{}, err
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	if _, _, err := c.do(req, "upload"); err != nil {
		return model.FileObject{}, err
	}
	return model.FileObject{Bucket: bucket, Path: path, Size: int64(len(blob.Data))}, nil
}

// Download returns the object stored at bucket/path.
func (c *Client) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, "download", http.MethodGet, objectPath(bucket, path), nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")
	body, _, err := c.do(req, "download")
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = []byte{}
	}
	return body, nil
}

// Remove deletes the given objects and returns the names the service reports
// as removed.
func (c *Client) Remove(ctx context.Context, bucket string, paths []string) ([]string, error) {
	data, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return nil, &model.BackendError{Backend: model.BackendHosted, Op: "delete_file", Message: "encode request body", Err: err}
	}

	req, err := c.newRequest(ctx, "delete_file", http.MethodDelete, storagePrefix+url.PathEscape(bucket), nil, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, _, err := c.do(req, "delete_file")
	if err != nil {
		return nil, err
	}

	var removed []struct {
		Name string `json:"name"`
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return []string{}, nil
	}
	if err := json.Unmarshal(body, &removed); err != nil {
		return nil, decodeError("delete_file", err)
	}
	names := make([]string, 0, len(removed))
	for _, obj := range removed {
		names = append(names, obj.Name)
	}
	return names, nil
}

// PublicURL returns the public retrieval URL of an object. It performs no I/O.
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + storagePrefix + "public/" + url.PathEscape(bucket) + "/" + escapePath(path)
}

func (c *Client) newRequest(ctx context.Context, op, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return nil, &model.BackendError{Backend: model.BackendHosted, Op: op, Message: "invalid service url", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &model.BackendError{
			Backend: model.BackendHosted,
			Op:      op,
			Message: fmt.Sprintf("service url %q is not an absolute http(s) URL", c.creds.ServiceURL),
		}
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &model.BackendError{Backend: model.BackendHosted, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("apikey", c.creds.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.creds.ServiceKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if method == http.MethodGet {
		// A cached response is reused only after the service confirms it
		// with 304 Not Modified.
		req.Header.Set("Cache-Control", "max-age=0")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, *http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &model.BackendError{Backend: model.BackendHosted, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, &model.BackendError{Backend: model.BackendHosted, Op: op, StatusCode: resp.StatusCode, Message: "read response body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, classify(op, resp.StatusCode, body)
	}
	return body, resp, nil
}

func selectQuery(opts model.SelectOptions) (url.Values, error) {
	query, err := filterQuery("select", opts.Filters)
	if err != nil {
		return nil, err
	}
	columns := "*"
	if len(opts.Columns) > 0 {
		columns = strings.Join(opts.Columns, ",")
	}
	query.Set("select", columns)
	if opts.OrderBy != "" {
		query.Set("order", opts.OrderBy+".asc")
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	return query, nil
}

// reservedParams are query parameters the service reads as options rather
// than column filters.
var reservedParams = map[string]bool{
	"select":      true,
	"order":       true,
	"limit":       true,
	"offset":      true,
	"on_conflict": true,
	"columns":     true,
	"and":         true,
	"or":          true,
	"not":         true,
}

func filterQuery(op string, filters model.Filters) (url.Values, error) {
	query := url.Values{}
	for _, col := range filters.Keys() {
		if reservedParams[col] {
			return nil, &model.BackendError{
				Backend: model.BackendHosted,
				Op:      op,
				Code:    model.CodeInvalidColumn,
				Message: fmt.Sprintf("column %q cannot be filtered: the name is a reserved query parameter", col),
			}
		}
		query.Set(col, filterExpr(filters[col]))
	}
	return query, nil
}

// filterExpr renders an equality filter in PostgREST operator syntax.
func filterExpr(v any) string {
	switch val := v.(type) {
	case nil:
		return "is.null"
	case string:
		return "eq." + val
	case bool:
		return "eq." + strconv.FormatBool(val)
	case float64:
		return "eq." + strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return "eq." + strconv.FormatFloat(float64(val), 'f', -1, 32)
	default:
		return "eq." + fmt.Sprint(val)
	}
}

// parseContentRange extracts the total from "0-24/3573". An unknown total
// ("*") yields nil.
func parseContentRange(header string) *int {
	_, total, ok := strings.Cut(header, "/")
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(total))
	if err != nil {
		return nil
	}
	return &n
}

func decodeRows(op string, body []byte) ([]model.Row, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []model.Row{}, nil
	}
	var rows []model.Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, decodeError(op, err)
	}
	if rows == nil {
		rows = []model.Row{}
	}
	return rows, nil
}

func objectPath(bucket, path string) string {
	return storagePrefix + url.PathEscape(bucket) + "/" + escapePath(path)
}

// escapePath escapes each segment of an object path, keeping the separators.
func escapePath(path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
