// Package remote fetches the member directory from the concrexit API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/directory/schema"
	"github.com/thaliawww/cxdir/internal/metrics"
)

const (
	groupsPath    = "activemembers/nextcloud/groups/"
	usersPath     = "activemembers/nextcloud/users/"
	tokenAuthPath = "token-auth"

	// maxBodyBytes bounds a response body read.
	maxBodyBytes = 64 << 20
)

// Fetcher is what the reconcilers need from the remote directory.
type Fetcher interface {
	FetchGroups(ctx context.Context) ([]schema.RemoteGroup, error)
	FetchUsers(ctx context.Context) ([]schema.RemoteUser, error)
}

// Config holds the connection settings for the concrexit API.
type Config struct {
	Host    string
	Secret  string
	Timeout time.Duration
}

// Client is an authenticated concrexit API client.
// Host and secret can be swapped at runtime with Configure.
type Client struct {
	http   *http.Client
	logger *zap.Logger

	mu     sync.RWMutex
	host   string
	secret string
}

var _ Fetcher = (*Client)(nil)

// New creates a client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		http:   httpClient,
		logger: logger.Named("remote"),
		host:   strings.TrimRight(cfg.Host, "/"),
		secret: cfg.Secret,
	}
}

// Configure replaces the host and shared secret used by later requests.
func (c *Client) Configure(host, secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.host = strings.TrimRight(host, "/")
	c.secret = secret
}

// Host returns the configured API host.
func (c *Client) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

func (c *Client) endpoint(path string) (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host + "/api/v1/" + path, c.secret
}

// FetchGroups returns the current group snapshot.
//
// Any transport failure, non-200 status or invalid record fails the whole
// fetch; no partial snapshot is returned.
func (c *Client) FetchGroups(ctx context.Context) ([]schema.RemoteGroup, error) {
	body, err := c.get(ctx, "groups", groupsPath)
	if err != nil {
		return nil, err
	}

	groups, err := decodeGroups(body)
	if err != nil {
		return nil, &RemoteError{Endpoint: "groups", StatusCode: http.StatusOK, Err: err}
	}

	c.logger.Debug("fetched groups", zap.Int("count", len(groups)))
	return groups, nil
}

// FetchUsers returns the current user snapshot.
func (c *Client) FetchUsers(ctx context.Context) ([]schema.RemoteUser, error) {
	body, err := c.get(ctx, "users", usersPath)
	if err != nil {
		return nil, err
	}

	users, err := decodeUsers(body)
	if err != nil {
		return nil, &RemoteError{Endpoint: "users", StatusCode: http.StatusOK, Err: err}
	}

	c.logger.Debug("fetched users", zap.Int("count", len(users)))
	return users, nil
}

// CheckPassword asks the concrexit API to authenticate uid.
// A 200 response means the credentials are valid; any other status means
// they are not. Only a transport failure returns an error.
func (c *Client) CheckPassword(ctx context.Context, uid, password string) (bool, error) {
	url, _ := c.endpoint(tokenAuthPath)

	payload, err := json.Marshal(map[string]string{
		"username": uid,
		"password": password,
	})
	if err != nil {
		return false, fmt.Errorf("failed to encode credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false, &TransportError{Endpoint: "token-auth", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues("token-auth", "error").Inc()
		return false, &TransportError{Endpoint: "token-auth", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	metrics.RemoteRequestsTotal.WithLabelValues("token-auth", strconv.Itoa(resp.StatusCode)).Inc()
	return resp.StatusCode == http.StatusOK, nil
}

// get performs one authenticated GET and returns the body of a 200 response.
func (c *Client) get(ctx context.Context, name, path string) ([]byte, error) {
	url, secret := c.endpoint(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &TransportError{Endpoint: name, Err: err}
	}
	req.Header.Set("Authorization", "Secret "+secret)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RemoteRequestsTotal.WithLabelValues(name, "error").Inc()
		return nil, &TransportError{Endpoint: name, Err: err}
	}
	defer resp.Body.Close()

	metrics.RemoteRequestsTotal.WithLabelValues(name, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("concrexit request",
		zap.String("endpoint", name),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &RemoteError{Endpoint: name, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Endpoint: name, Err: err}
	}
	return body, nil
}
