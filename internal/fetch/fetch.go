// Package fetch downloads published container JavaScript from the public
// Google Tag Manager endpoint.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

const (
	// Public endpoint serving compiled containers; parameterized only by the
	// container id, no authentication involved.
	DefaultEndpoint = "https://www.googletagmanager.com/gtm.js"

	defaultUserAgent = "tagscope/1.0 (+container audit)"

	// maxBodyBytes caps the response read; real containers are well under
	// this and anything larger is not worth parsing.
	maxBodyBytes = 16 << 20
)

// containerIDPattern is the vendor's public id convention.
var containerIDPattern = regexp.MustCompile(`^GTM-[A-Z0-9]{4,8}$`)

// ValidContainerID reports whether id matches the public GTM-XXXXXXX form.
func ValidContainerID(id string) bool {
	return containerIDPattern.MatchString(id)
}

// StatusError is a completed HTTP exchange with a non-2xx status. It is
// distinct from transport errors (DNS, connection) so callers can report the
// status code to the user.
type StatusError struct {
	ContainerID string
	StatusCode  int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("container %s: endpoint returned HTTP %d", e.ContainerID, e.StatusCode)
}

// InvalidContainerIDError rejects ids that do not match the public
// convention before any network activity happens.
type InvalidContainerIDError struct {
	ContainerID string
}

func (e *InvalidContainerIDError) Error() string {
	return fmt.Sprintf("invalid container id %q (expected GTM-XXXXXXX)", e.ContainerID)
}

// Client performs the single outbound GET of an inspection run. Redirects
// are followed by the underlying http.Client.
type Client struct {
	httpClient *http.Client
	endpoint   string
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the download endpoint; used by tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent overrides the request User-Agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient builds a Client with an explicit timeout. The original host
// environment enforced a wall-clock ceiling per invocation; outside of it
// the timeout has to be ours.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   DefaultEndpoint,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchContainer downloads the compiled JavaScript for one container and
// returns it as text. Non-2xx responses come back as *StatusError; anything
// else is a transport failure.
func (c *Client) FetchContainer(ctx context.Context, containerID string) (string, error) {
	if !ValidContainerID(containerID) {
		return "", &InvalidContainerIDError{ContainerID: containerID}
	}

	reqURL := fmt.Sprintf("%s?id=%s", c.endpoint, url.QueryEscape(containerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch container %s: %w", containerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{ContainerID: containerID, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read container %s response: %w", containerID, err)
	}

	return string(body), nil
}
