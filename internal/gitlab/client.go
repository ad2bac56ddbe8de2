package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/op2gl/op2gl/internal/telemetry"
)

// BackOff is the retry schedule used for idempotent requests.
type BackOff = backoff.BackOff

const instrumentationScope = "github.com/op2gl/op2gl/gitlab"

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 50 * 1024 * 1024

// maxRetryAfter caps how long a Retry-After header may stall a request.
const maxRetryAfter = time.Minute

// NewClient creates a new GitLab client. baseURL is the instance URL; the
// API suffix is appended by buildURL.
func NewClient(token, baseURL, projectID string) *Client {
	return &Client{
		Token:     token,
		BaseURL:   baseURL,
		ProjectID: projectID,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		MaxRetries:  MaxRetries,
		newBackOff:  defaultBackOff,
		instruments: telemetry.NewAPIInstruments(instrumentationScope),
	}
}

func defaultBackOff() BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = RetryDelay
	bo.MaxElapsedTime = 2 * time.Minute
	return bo
}

func (c *Client) clone() *Client {
	cp := *c
	return &cp
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := c.clone()
	cp.HTTPClient = httpClient
	return cp
}

// WithEndpoint returns a new client with a custom API endpoint.
func (c *Client) WithEndpoint(endpoint string) *Client {
	cp := c.clone()
	cp.BaseURL = endpoint
	return cp
}

// WithRetryBackOff returns a new client whose idempotent requests retry on
// the schedule produced by newBackOff. Tests use backoff.ZeroBackOff.
func (c *Client) WithRetryBackOff(newBackOff func() BackOff) *Client {
	cp := c.clone()
	cp.newBackOff = newBackOff
	return cp
}

// WithMaxRetries returns a new client with a different retry bound.
func (c *Client) WithMaxRetries(n int) *Client {
	cp := c.clone()
	cp.MaxRetries = n
	return cp
}

// projectPath returns the URL-encoded project ID or path.
func (c *Client) projectPath() string {
	return url.PathEscape(c.ProjectID)
}

// apiBase returns the API root, tolerating a BaseURL that already carries
// the /api/v4 suffix.
func (c *Client) apiBase() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if strings.HasSuffix(base, DefaultAPIEndpoint) {
		return base
	}
	return base + DefaultAPIEndpoint
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.apiBase() + path

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}

// APIError is a non-2xx response from the target.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s %s: %s (status %d)", e.Method, e.Path, strings.TrimSpace(e.Body), e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the target.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsForbidden reports whether err is a 403 from the target.
func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

type sudoKey struct{}

// WithSudo returns a context whose requests impersonate the given user.
// A zero userID clears impersonation.
func WithSudo(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, sudoKey{}, userID)
}

// SudoFrom returns the impersonated user carried by ctx, if any.
func SudoFrom(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(sudoKey{}).(int)
	return id, ok && id != 0
}

// idempotent reports whether a request may be resent after a transient
// failure. Creates are never resent: a lost response could mean the entity
// exists, and for issues that would consume an IID.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

func transientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

var numericSegment = regexp.MustCompile(`/[0-9]+(/|$)`)

// routeOf reduces a request URL to a low-cardinality route for telemetry.
func routeOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return "unknown"
	}
	path := u.EscapedPath()
	if i := strings.Index(path, "/projects/"); i >= 0 {
		rest := path[i+len("/projects/"):]
		if j := strings.Index(rest, "/"); j >= 0 {
			path = path[:i] + "/projects/:id" + rest[j:]
		} else {
			path = path[:i] + "/projects/:id"
		}
	}
	for numericSegment.MatchString(path) {
		path = numericSegment.ReplaceAllString(path, "/:n$1")
	}
	return path
}

// doRequest performs a JSON request with authentication and retry logic.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var payload []byte
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = jsonBody
	}
	contentType := ""
	if payload != nil {
		contentType = "application/json"
	}
	return c.send(ctx, method, urlStr, contentType, payload)
}

// send issues the request. Idempotent methods are retried on network errors,
// 429 and 5xx; everything else fails on the first error.
func (c *Client) send(ctx context.Context, method, urlStr, contentType string, payload []byte) ([]byte, http.Header, error) {
	end := func(int, error) {}
	if c.instruments != nil {
		ctx, end = c.instruments.Start(ctx, method, routeOf(urlStr))
	}
	respBody, header, status, err := c.sendWithRetry(ctx, method, urlStr, contentType, payload)
	end(status, err)
	return respBody, header, err
}

func (c *Client) sendWithRetry(ctx context.Context, method, urlStr, contentType string, payload []byte) ([]byte, http.Header, int, error) {
	var (
		respBody []byte
		header   http.Header
		status   int
		attempt  int
	)
	retry := idempotent(method)

	op := func() error {
		attempt++
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("PRIVATE-TOKEN", c.Token)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if uid, ok := SudoFrom(ctx); ok {
			req.Header.Set("Sudo", strconv.Itoa(uid))
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			err = fmt.Errorf("request failed (attempt %d): %w", attempt, err)
			if !retry || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		status = resp.StatusCode
		if err != nil {
			err = fmt.Errorf("failed to read response (attempt %d): %w", attempt, err)
			if !retry {
				return backoff.Permanent(err)
			}
			return err
		}

		if status >= 200 && status < 300 {
			respBody, header = body, resp.Header
			return nil
		}

		apiErr := &APIError{Method: method, Path: req.URL.Path, StatusCode: status, Body: string(body)}
		if !retry || !transientStatus(status) {
			return backoff.Permanent(apiErr)
		}
		if wait := retryAfter(resp.Header); wait > 0 {
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case <-time.After(wait):
			}
		}
		return apiErr
	}

	bo := c.newBackOff
	if bo == nil {
		bo = defaultBackOff
	}
	maxRetries := c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo(), uint64(maxRetries)), ctx))
	if err != nil {
		return nil, nil, status, err
	}
	return respBody, header, status, nil
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return 0
	}
	d := time.Duration(seconds) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

// getJSON performs a GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, params map[string]string, out interface{}) error {
	body, _, err := c.doRequest(ctx, http.MethodGet, c.buildURL(path, params), nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// sendJSON performs a write and decodes the response into out when non-nil.
func (c *Client) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	body, _, err := c.doRequest(ctx, method, c.buildURL(path, nil), in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// fetchAll follows X-Next-Page pagination and concatenates every page.
func fetchAll[T any](ctx context.Context, c *Client, path string, params map[string]string) ([]T, error) {
	var all []T
	page := 1

	for {
		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}
		p := map[string]string{
			"per_page": strconv.Itoa(MaxPageSize),
			"page":     strconv.Itoa(page),
		}
		for k, v := range params {
			p[k] = v
		}

		respBody, headers, err := c.doRequest(ctx, http.MethodGet, c.buildURL(path, p), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", path, err)
		}

		var items []T
		if err := json.Unmarshal(respBody, &items); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		all = append(all, items...)

		next := headers.Get("X-Next-Page")
		if next == "" {
			break
		}
		n, err := strconv.Atoi(next)
		if err != nil || n <= page {
			break
		}
		page = n
	}

	return all, nil
}

var projectURLPattern = regexp.MustCompile(`^(https?://.+?)/([^/]+)/([^/]+?)(?:\.git)?/?$`)

// ParseProjectURL splits a project URL into the instance URL and the
// "namespace/project" path. The last two path segments name the project, so
// instances served under a relative URL root work; nested groups do not.
func ParseProjectURL(raw string) (baseURL, projectPath string, err error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "/-/"); i >= 0 {
		raw = raw[:i]
	}
	m := projectURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", "", fmt.Errorf("invalid project URL %q: want https://host/namespace/project", raw)
	}
	u, err := url.Parse(m[1])
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid project URL %q", raw)
	}
	return m[1], m[2] + "/" + m[3], nil
}
