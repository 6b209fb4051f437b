// Package api provides low-level HTTP transport for SOAR REST calls.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tphakala/go-soar/internal/auth"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultMaxBodySize = 10 * 1024 * 1024 // 10MB
	restPrefix         = "rest"
)

// Observer receives one call per completed HTTP exchange.
type Observer interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
}

// Transport handles HTTP communication with the SOAR REST API.
type Transport struct {
	BaseURL     *url.URL
	HTTPClient  *http.Client
	Credentials *auth.Credentials
	UserAgent   string
	Logger      zerolog.Logger
	Observer    Observer
}

// NewTransport creates a Transport with the given configuration.
func NewTransport(baseURL string, creds *auth.Credentials, httpClient *http.Client) (*Transport, error) {
	if creds == nil {
		return nil, fmt.Errorf("credentials must be provided")
	}

	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	return &Transport{
		BaseURL:     u,
		HTTPClient:  httpClient,
		Credentials: creds,
		UserAgent:   "go-soar/1.0",
		Logger:      zerolog.Nop(),
	}, nil
}

// RestURL returns the REST root of the instance, e.g. https://soar/rest.
func (t *Transport) RestURL() string {
	return t.BaseURL.JoinPath(restPrefix).String()
}

// Request represents an API request. Path is relative to /rest unless Root
// is set, in which case it is relative to the instance root.
//
// Body is sent as JSON, except an io.Reader, which is sent as is with the
// Content-Type taken from Headers.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers http.Header
	Root    bool
}

// Response represents an API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Do executes an API request and returns the raw response.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	return t.do(ctx, req, nil)
}

// Download executes a request and copies a successful response body to w
// without the size limit of Do. Error responses are buffered into
// Response.Body as with Do.
func (t *Transport) Download(ctx context.Context, req *Request, w io.Writer) (*Response, error) {
	if w == nil {
		return nil, fmt.Errorf("download writer must be provided")
	}
	return t.do(ctx, req, w)
}

func (t *Transport) do(ctx context.Context, req *Request, w io.Writer) (*Response, error) {
	httpReq, err := t.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		t.Logger.Debug().Err(err).
			Str("method", httpReq.Method).
			Str("url", httpReq.URL.String()).
			Msg("request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	var (
		body []byte
		size int64
	)
	if w != nil && httpResp.StatusCode < http.StatusBadRequest {
		if size, err = io.Copy(w, httpResp.Body); err != nil {
			return nil, fmt.Errorf("copying response body: %w", err)
		}
	} else {
		// Limit response body size to prevent memory exhaustion
		limitedReader := io.LimitReader(httpResp.Body, defaultMaxBodySize+1)
		body, err = io.ReadAll(limitedReader)
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}

		if int64(len(body)) > defaultMaxBodySize {
			return nil, fmt.Errorf("response too large: exceeds %d bytes", defaultMaxBodySize)
		}
		size = int64(len(body))
	}

	elapsed := time.Since(start)
	t.Logger.Debug().
		Str("method", httpReq.Method).
		Str("url", httpReq.URL.String()).
		Str("request_id", httpReq.Header.Get("X-Request-ID")).
		Int("status", httpResp.StatusCode).
		Dur("elapsed", elapsed).
		Int64("bytes", size).
		Msg("soar request")
	if t.Observer != nil {
		t.Observer.ObserveRequest(httpReq.Method, httpResp.StatusCode, elapsed)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

// DoJSON executes a request and unmarshals the JSON response into result.
// It only attempts to unmarshal on success status codes (< 400).
func (t *Transport) DoJSON(ctx context.Context, req *Request, result any) (*Response, error) {
	resp, err := t.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if result != nil && len(resp.Body) > 0 && resp.StatusCode < 400 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return resp, fmt.Errorf("unmarshaling response: %w", err)
		}
	}

	return resp, nil
}

func (t *Transport) buildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	path := strings.TrimPrefix(req.Path, "/")
	u := t.BaseURL.JoinPath(restPrefix, path)
	if req.Root {
		u = t.BaseURL.JoinPath(path)
	}
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var (
		bodyReader io.Reader
		jsonBody   bool
	)
	switch body := req.Body.(type) {
	case nil:
	case io.Reader:
		bodyReader = body
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		jsonBody = true
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if jsonBody {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", t.UserAgent)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	t.Credentials.Apply(httpReq, t.RestURL())

	// Caller headers win, including an explicit X-Request-ID.
	maps.Copy(httpReq.Header, req.Headers)

	return httpReq, nil
}
