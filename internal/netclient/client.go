// Package netclient wraps the HTTP transport for the app: it attaches
// bearer credentials, unwraps the server envelope, classifies failures
// and coordinates token refresh on 401s.
package netclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/and161185/appkit/internal/telemetry"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds a request when neither the options nor the
// request set one.
const DefaultTimeout = 30 * time.Second

const maxLoggedBody = 512

// Options configure a Client. Everything is injected; the package keeps
// no global state.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Logger     *zap.Logger
	HTTPClient *http.Client
	Metrics    *telemetry.RequestMetrics
}

// Client is the request pipeline. Construct with New, bind auth hooks
// once with SetAuthHooks, then issue requests with Do or the verb
// helpers. Safe for concurrent use.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     *zap.Logger
	metrics *telemetry.RequestMetrics

	hooks AuthHooks
	sf    singleflight.Group
}

// Request describes one call through the pipeline.
type Request struct {
	Method string
	Path   string
	Body   any
	Header http.Header

	// SkipAuth sends the request without a bearer token and exempts it
	// from 401 refresh interception. Used for login/register/refresh
	// itself, where a 401 means bad credentials, not a stale token.
	SkipAuth bool

	// Timeout overrides the client default for this request only.
	Timeout time.Duration

	// Retryable is an informational hint for callers; the pipeline
	// performs no generic retries, only the built-in 401 replay.
	Retryable bool
}

// Envelope is the wrapper every server response body uses.
type Envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// OK reports whether the business code is a success sentinel.
func (e *Envelope) OK() bool { return e.Code == 0 || e.Code == 200 }

// New builds a Client. A nil logger disables logging.
func New(opts Options) *Client {
	baseURL := opts.BaseURL
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    httpClient,
		log:     log,
		metrics: opts.Metrics,
	}
}

// SetAuthHooks binds the credential strategy. Called once, before the
// first request; without hooks every request goes out unauthenticated
// and 401s are not intercepted.
func (c *Client) SetAuthHooks(h AuthHooks) { c.hooks = h }

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues a GET through the pipeline.
func (c *Client) Get(ctx context.Context, path string, out any) (*Envelope, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path}, out)
}

// Post issues a POST with a JSON body through the pipeline.
func (c *Client) Post(ctx context.Context, path string, body, out any) (*Envelope, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put issues a PUT with a JSON body through the pipeline.
func (c *Client) Put(ctx context.Context, path string, body, out any) (*Envelope, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

// Do dispatches the request, unwraps the envelope into out and returns
// it. Transport failures come back as *Error; a non-success business
// code does NOT: it is logged at warn and left for the caller to check
// on the returned envelope.
func (c *Client) Do(ctx context.Context, r Request, out any) (*Envelope, error) {
	return c.do(ctx, r, out, false)
}

// do runs one round trip. replayed marks the single post-refresh retry,
// which bypasses the refresh coordinator: a replay that 401s again is
// surfaced as a plain failure, never looped.
func (c *Client) do(parent context.Context, r Request, out any, replayed bool) (*Envelope, error) {
	reqID := requestID()
	start := time.Now()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	httpReq, err := c.build(ctx, r)
	if err != nil {
		return nil, &Error{Type: TypeUnknown, Message: err.Error(), Err: err}
	}

	c.log.Debug("http request",
		zap.String("id", reqID),
		zap.String("method", r.Method),
		zap.String("path", r.Path),
	)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		nerr := classifyTransport(err, parent.Err())
		c.observe(r.Method, 0, time.Since(start), nerr)
		if nerr.Type == TypeCancel {
			// cancellation is the caller's doing; it must not trigger
			// refresh and is not worth an error-level line
			c.log.Debug("request canceled", zap.String("id", reqID), zap.String("path", r.Path))
		} else {
			c.log.Error("transport failure",
				zap.String("id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.Path),
				zap.String("type", string(nerr.Type)),
				zap.Error(err),
			)
		}
		return nil, nerr
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		nerr := &Error{Type: TypeUnknown, Message: "read response: " + err.Error(), Err: err}
		c.observe(r.Method, resp.StatusCode, time.Since(start), nerr)
		return nil, nerr
	}

	c.log.Debug("http response",
		zap.String("id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
		zap.ByteString("body", truncate(body)),
	)

	if resp.StatusCode >= 400 {
		nerr := classifyStatus(resp.StatusCode, strings.TrimSpace(string(truncate(body))))
		c.observe(r.Method, resp.StatusCode, time.Since(start), nerr)
		if nerr.Type == TypeUnauthorized && !replayed && !r.SkipAuth && c.hooks != nil {
			return c.refreshAndReplay(parent, r, out, nerr)
		}
		c.log.Error("request failed",
			zap.String("id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.Path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(body)),
		)
		return nil, nerr
	}
	c.observe(r.Method, resp.StatusCode, time.Since(start), nil)

	env := &Envelope{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, env); err != nil {
			return nil, &Error{Type: TypeUnknown, Message: "malformed envelope: " + err.Error(), Err: err}
		}
	}
	if !env.OK() {
		// business-level failure: logged, not rejected; callers branch
		// on env.Code themselves
		c.log.Warn("business error in envelope",
			zap.String("id", reqID),
			zap.String("path", r.Path),
			zap.Int("code", env.Code),
			zap.String("message", env.Message),
		)
	}
	if out != nil && len(env.Data) > 0 && !bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, &Error{Type: TypeUnknown, Message: "decode data: " + err.Error(), Err: err}
		}
	}
	return env, nil
}

func (c *Client) build(ctx context.Context, r Request) (*http.Request, error) {
	var bodyReader io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.Method, c.baseURL+r.Path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if !r.SkipAuth && c.hooks != nil {
		tok, err := c.hooks.Token(ctx)
		if err != nil {
			// absence of a token is not an error here; the request
			// proceeds unauthenticated
			c.log.Debug("token accessor failed, sending unauthenticated", zap.Error(err))
		} else if tok != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return httpReq, nil
}

func (c *Client) observe(method string, status int, d time.Duration, nerr *Error) {
	c.metrics.ObserveRequest(method, status, d)
	if nerr != nil {
		c.metrics.ObserveFailure(string(nerr.Type))
	}
}

func requestID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

func truncate(b []byte) []byte {
	if len(b) <= maxLoggedBody {
		return b
	}
	return b[:maxLoggedBody]
}
