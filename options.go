package soar

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	baseURL      string
	username     string
	password     string
	token        string
	session      bool
	csrfToken    string
	httpClient   *http.Client
	timeout      time.Duration
	userAgent    string
	insecure     bool
	logger       zerolog.Logger
	registerer   prometheus.Registerer
	pollInterval time.Duration
	runTimeout   time.Duration
	gateway      Gateway
}

// WithBaseURL sets the SOAR instance URL, e.g. https://soar.example.com.
// The REST root (/rest) is appended by the client.
func WithBaseURL(url string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithBasicAuth authenticates with a SOAR username and password.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *clientConfig) {
		c.username = username
		c.password = password
	}
}

// WithToken authenticates with a SOAR automation user token (ph-auth-token).
func WithToken(token string) ClientOption {
	return func(c *clientConfig) {
		c.token = token
	}
}

// WithSession uses an already authenticated HTTP client, typically one whose
// cookie jar holds a SOAR sessionid. The CSRF token is sent as X-CSRFToken.
func WithSession(client *http.Client, csrfToken string) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = client
		c.session = true
		c.csrfToken = csrfToken
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the default request timeout.
// Note: This option is ignored when WithHTTPClient or WithSession is used;
// set the timeout directly on the provided client instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithInsecureSkipVerify disables TLS certificate verification. SOAR lab
// instances commonly run with self-signed certificates.
// Ignored when a custom HTTP client is supplied.
func WithInsecureSkipVerify() ClientOption {
	return func(c *clientConfig) {
		c.insecure = true
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger used for request tracing and playbook runs.
// The default discards everything.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithMetrics registers the client's prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) ClientOption {
	return func(c *clientConfig) {
		c.registerer = reg
	}
}

// WithPollInterval sets how often a running playbook is polled.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithRunTimeout bounds how long a single playbook run is waited for.
// The run keeps going on the server after the timeout.
func WithRunTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.runTimeout = d
		}
	}
}

// WithGateway replaces the HTTP gateway. Credentials and base URL are not
// required when a gateway is supplied.
func WithGateway(gw Gateway) ClientOption {
	return func(c *clientConfig) {
		c.gateway = gw
	}
}

// RunOption configures a RunPlaybooks call.
type RunOption func(*runConfig)

type runConfig struct {
	suppress bool
	scope    string
}

func newRunConfig(opts ...RunOption) *runConfig {
	cfg := &runConfig{scope: defaultScope}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithSuppressErrors turns playbook failures into failed results instead of
// a returned *PlaybookError, and keeps running the remaining playbooks.
func WithSuppressErrors() RunOption {
	return func(r *runConfig) {
		r.suppress = true
	}
}

// WithScope sets the artifact scope of the run: "all", "new" or a
// JSON list of artifact ids. Defaults to "all".
func WithScope(scope string) RunOption {
	return func(r *runConfig) {
		if scope != "" {
			r.scope = scope
		}
	}
}
