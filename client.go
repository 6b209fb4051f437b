package soar

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/tphakala/go-soar/internal/api"
	"github.com/tphakala/go-soar/internal/auth"
)

// Default configuration values.
const defaultTimeout = 30 * time.Second

// Client is the SOAR API client.
type Client struct {
	// Containers provides access to container operations.
	Containers ContainerService

	// Artifacts provides access to artifact operations.
	Artifacts ArtifactService

	// Playbooks provides access to playbook definitions and runs.
	Playbooks PlaybookService

	// Actions provides access to action runs and app runs.
	Actions ActionService

	// Approvals provides access to pending playbook prompts.
	Approvals ApprovalService

	// Apps provides access to installed apps, their actions and assets.
	Apps AppService

	// Indicators provides read access to indicators.
	Indicators IndicatorService

	// Vault uploads files to the vault.
	Vault VaultService

	gateway    Gateway
	transport  *api.Transport
	containers *containerService
	playbooks  *playbookService
	engine     *engine
	logger     zerolog.Logger
}

// NewClient creates a new SOAR client with the given options.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		timeout:      defaultTimeout,
		logger:       zerolog.Nop(),
		pollInterval: defaultPollInterval,
		runTimeout:   defaultRunTimeout,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	m, err := newMetrics(cfg.registerer)
	if err != nil {
		return nil, err
	}

	client := &Client{
		gateway: cfg.gateway,
		logger:  cfg.logger,
	}

	if client.gateway == nil {
		transport, err := newTransport(cfg)
		if err != nil {
			return nil, err
		}
		transport.Logger = cfg.logger
		if m != nil {
			transport.Observer = m
		}
		client.transport = transport
		client.gateway = &restGateway{transport: transport}
	}

	// Initialize services
	gw := client.gateway
	actions := newActionService(gw)
	approvals := newApprovalService(gw)
	artifacts := newArtifactService(gw)
	playbooks := newPlaybookService(gw, actions)
	containers := newContainerService(gw, artifacts, playbooks)
	playbooks.containers = containers

	var restURL string
	if client.transport != nil {
		restURL = client.transport.RestURL()
	}

	client.engine = &engine{
		gw:           gw,
		approvals:    approvals,
		actions:      actions,
		playbooks:    playbooks,
		logger:       cfg.logger,
		metrics:      m,
		pollInterval: cfg.pollInterval,
		runTimeout:   cfg.runTimeout,
	}
	playbooks.engine = client.engine

	client.containers = containers
	client.playbooks = playbooks
	client.Containers = containers
	client.Artifacts = artifacts
	client.Playbooks = playbooks
	client.Actions = actions
	client.Approvals = approvals
	client.Apps = newAppService(gw)
	client.Indicators = newIndicatorService(gw)
	client.Vault = newVaultService(gw, restURL)

	return client, nil
}

func newTransport(cfg *clientConfig) (*api.Transport, error) {
	if cfg.baseURL == "" {
		return nil, ErrNoBaseURL
	}

	creds := &auth.Credentials{
		Username:  cfg.username,
		Password:  cfg.password,
		Token:     cfg.token,
		CSRFToken: cfg.csrfToken,
		Session:   cfg.session,
	}
	if cfg.token == "" && creds.Partial() {
		return nil, ErrIncompleteCredentials
	}
	if !creds.Valid() {
		return nil, ErrNoCredentials
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.timeout,
		}
		if cfg.insecure {
			tr := http.DefaultTransport.(*http.Transport).Clone()
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for lab instances
			httpClient.Transport = tr
		}
	}

	transport, err := api.NewTransport(cfg.baseURL, creds, httpClient)
	if err != nil {
		return nil, err
	}

	if cfg.userAgent != "" {
		transport.UserAgent = cfg.userAgent
	}
	return transport, nil
}

// BaseURL returns the configured instance URL, or "" when a custom gateway
// is in use.
func (c *Client) BaseURL() string {
	if c.transport == nil {
		return ""
	}
	return c.transport.BaseURL.String()
}

// Version returns the SOAR product version. Any non-2xx reply is reported
// as an *AuthenticationError since it usually means the credentials were
// rejected.
func (c *Client) Version(ctx context.Context) (string, error) {
	var reply struct {
		Version string `json:"version"`
	}
	if err := send(ctx, c.gateway, http.MethodGet, "version", nil, nil, &reply); err != nil {
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			return "", err
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", &AuthenticationError{APIError: *apiErr}
		}
		return "", err
	}
	return reply.Version, nil
}

// Authenticate verifies the configured credentials against the instance.
func (c *Client) Authenticate(ctx context.Context) error {
	version, err := c.Version(ctx)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("version", version).Msg("authenticated to SOAR")
	return nil
}

// CreateContainer creates the container and its artifacts on the server.
// The server id is stored on c, which is also returned.
func (c *Client) CreateContainer(ctx context.Context, container *Container) (*Container, error) {
	return c.containers.Create(ctx, container)
}

// UpdateContainerValues merges the server state of the container and its
// nested artifacts, playbook runs, actions, notes, comments and pins into
// the container. It issues many requests; avoid calling it in tight loops.
func (c *Client) UpdateContainerValues(ctx context.Context, container *Container) error {
	return c.containers.Refresh(ctx, container)
}

// RunPlaybooks runs every playbook attached to the container that has not
// run yet, then each playbook passed in, which is attached to the container
// first. Runs are sequential.
//
// By default the first failing run stops the batch and its *PlaybookError is
// returned along with the results gathered so far. With WithSuppressErrors
// every playbook runs and failures are reported on the results.
func (c *Client) RunPlaybooks(ctx context.Context, container *Container, playbooks []*Playbook, opts ...RunOption) ([]*RunResult, error) {
	if container == nil || !container.HasID() {
		return nil, &ReferenceError{Op: "run playbooks", Resource: "container"}
	}
	cfg := newRunConfig(opts...)

	var queue []*Playbook
	for _, p := range container.Playbooks {
		if p != nil && p.RunID() == 0 {
			queue = append(queue, p)
		}
	}
	for _, p := range playbooks {
		if p == nil {
			continue
		}
		if !slices.Contains(container.Playbooks, p) {
			container.AddPlaybooks(p)
		}
		if p.RunID() == 0 && !slices.Contains(queue, p) {
			queue = append(queue, p)
		}
	}
	if len(queue) == 0 {
		return nil, ErrNoPlaybooks
	}

	results := make([]*RunResult, 0, len(queue))
	for _, p := range queue {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := c.engine.run(ctx, container, p, cfg)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			if cfg.suppress && !isPlaybookError(err) {
				c.logger.Warn().Err(err).Str("playbook", p.Name()).Msg("playbook launch failed")
				results = append(results, &RunResult{Playbook: p, Err: err})
				continue
			}
			return results, err
		}
	}
	return results, nil
}
