package snapshot

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/wybot-bridge/internal/infrastructure/config"
	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

const (
	// defaultTimeout bounds each HTTP round trip.
	defaultTimeout = 15 * time.Second

	// userAgent mirrors the vendor app; the API rejects unfamiliar agents.
	userAgent = "WYBOT/13 CFNetwork/1498.700.2 Darwin/23.6.0"

	loginPath  = "/api/user/login"
	groupsPath = "/api/group/"
)

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// loginResponse is the wire shape of the login endpoint.
type loginResponse struct {
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
	Metadata *struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	} `json:"metadata"`
}

// devicesResponse is the wire shape of the grouped-devices endpoint.
type devicesResponse struct {
	Code     int    `json:"code"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
	Metadata *struct {
		Groups []*wybot.Group `json:"groups"`
	} `json:"metadata"`
}

// Client fetches the device inventory from the WyBot cloud API.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the session token is
//     guarded by a mutex.
type Client struct {
	baseURL  string
	username string
	password string

	httpClient *http.Client

	mu     sync.Mutex
	token  string
	userID string

	logger Logger
}

// New builds a client from account configuration. No network traffic
// happens until Login or Snapshot is called.
func New(cfg config.AccountConfig) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: noopLogger{},
	}
}

// SetLogger sets a logger for fetch diagnostics.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Login authenticates with md5-hashed credentials and stores the
// session token and user id for later fetches.
func (c *Client) Login(ctx context.Context) error {
	sum := md5.Sum([]byte(c.password))
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	c.setHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrLoginFailed, resp.StatusCode)
	}

	var parsed loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if parsed.Metadata == nil || parsed.Metadata.Token == "" {
		return fmt.Errorf("%w: %s", ErrLoginFailed, parsed.Message)
	}

	c.mu.Lock()
	c.token = parsed.Metadata.Token
	c.userID = parsed.Metadata.UserID
	c.mu.Unlock()

	c.logger.Debug("logged in to wybot api", "user_id", parsed.Metadata.UserID)
	return nil
}

// fetchGroups retrieves the account's device groups, logging in first
// when no session exists.
func (c *Client) fetchGroups(ctx context.Context) (map[string]*wybot.Group, error) {
	c.mu.Lock()
	token, userID := c.token, c.userID
	c.mu.Unlock()

	if token == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		token, userID = c.token, c.userID
		c.mu.Unlock()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+groupsPath+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	c.setHeaders(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// Session expired; drop the token so the next call re-authenticates.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: status %d", ErrNotAuthenticated, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	var parsed devicesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if parsed.Metadata == nil {
		return nil, fmt.Errorf("%w: %s", ErrFetchFailed, parsed.Message)
	}

	out := make(map[string]*wybot.Group, len(parsed.Metadata.Groups))
	for _, g := range parsed.Metadata.Groups {
		if g == nil || g.ID == "" {
			continue
		}
		out[g.ID] = g
	}
	return out, nil
}

// Snapshot returns the inventory indexed by group id, or an empty map
// on any failure. Errors are logged, never propagated; the caller
// keeps its last good state.
func (c *Client) Snapshot(ctx context.Context) map[string]*wybot.Group {
	groups, err := c.fetchGroups(ctx)
	if err != nil {
		c.logger.Warn("inventory snapshot failed", "error", err)
		return map[string]*wybot.Group{}
	}
	return groups
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
}
