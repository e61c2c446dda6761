package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voxtide/voxtide/pkg/realtime"
)

// StartMode distinguishes a user-initiated start from an automatic
// reconnect after an unexpected channel loss.
type StartMode int

const (
	StartFresh StartMode = iota
	StartReconnect
)

func (m StartMode) String() string {
	if m == StartReconnect {
		return "reconnect"
	}
	return "fresh"
}

// ConnectorConfig describes how to reach the credential endpoint and the
// remote conversation service.
type ConnectorConfig struct {
	// TokenURL is the credential endpoint, called with AppToken as bearer.
	TokenURL string
	// AppToken authenticates the credential request.
	AppToken string
	// ChannelURL is the websocket endpoint of the conversation service.
	ChannelURL string

	Model string
	Voice string
	// Instructions overrides the instructions returned by the credential
	// endpoint when non-empty.
	Instructions string

	// TurnDetection is echoed to the peer in the configuration message.
	TurnDetection realtime.TurnDetection

	// MaxReconnects bounds automatic reconnect attempts after an
	// unexpected channel loss. Reset on success and on every fresh start.
	MaxReconnects int
	// ReconnectBackoff is the per-attempt delay multiplier: attempt N
	// waits N * ReconnectBackoff.
	ReconnectBackoff time.Duration

	// HTTPClient is used for the credential fetch. Defaults to a client
	// with a 10s timeout.
	HTTPClient *http.Client
}

// DefaultConnectorConfig carries the retry tuning used in production.
var DefaultConnectorConfig = ConnectorConfig{
	TurnDetection: realtime.TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	},
	MaxReconnects:    2,
	ReconnectBackoff: time.Second,
}

// credentialResponse is the body returned by the credential endpoint.
type credentialResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
	Instructions string `json:"instructions"`
}

// Connector owns the lifecycle of the single open conversation channel:
// credential fetch, dial, the one configuration message, teardown, and
// the bounded reconnect budget. At most one channel is ever open; a new
// open fully tears down the previous one first.
type Connector struct {
	config ConnectorConfig
	http   *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	opening   bool
	channel   *realtime.Channel
	sessionID string
	attempts  int
}

// NewConnector creates a connector. Zero retry fields fall back to
// DefaultConnectorConfig values.
func NewConnector(config ConnectorConfig, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = DefaultConnectorConfig.MaxReconnects
	}
	if config.ReconnectBackoff == 0 {
		config.ReconnectBackoff = DefaultConnectorConfig.ReconnectBackoff
	}
	if config.TurnDetection.Type == "" {
		config.TurnDetection = DefaultConnectorConfig.TurnDetection
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Connector{config: config, http: client, logger: logger}
}

// Open fetches a short-lived credential, dials the channel and sends the
// configuration message. A fresh open resets the reconnect budget and is
// rejected with ErrAlreadyStarted while a channel is connecting or open.
// Any previously open channel is fully torn down before the new dial, so
// its close handler can never act on the new session.
func (c *Connector) Open(ctx context.Context, mode StartMode) (*realtime.Channel, error) {
	c.mu.Lock()
	if c.opening {
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	if mode == StartFresh && c.channel != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	c.opening = true
	if mode == StartFresh {
		c.attempts = 0
	}
	prev := c.channel
	c.channel = nil
	c.sessionID = uuid.NewString()
	sessionID := c.sessionID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.opening = false
		c.mu.Unlock()
	}()

	if prev != nil {
		prev.Close()
	}

	logger := c.logger.With(slog.String("session_id", sessionID), slog.String("mode", mode.String()))
	logger.Info("starting conversation session")

	secret, instructions, err := c.fetchCredential(ctx)
	if err != nil {
		return nil, err
	}
	if c.config.Instructions != "" {
		instructions = c.config.Instructions
	}

	ch, err := realtime.Dial(ctx, c.config.ChannelURL, secret, logger)
	if err != nil {
		return nil, transportError(err, "failed to open conversation channel")
	}

	td := c.config.TurnDetection
	if err := ch.Send(realtime.UpdateSession(realtime.SessionConfig{
		Voice:         c.config.Voice,
		Instructions:  instructions,
		TurnDetection: &td,
	})); err != nil {
		ch.Close()
		return nil, transportError(err, "failed to configure session")
	}

	c.mu.Lock()
	c.channel = ch
	c.attempts = 0
	c.mu.Unlock()

	return ch, nil
}

// fetchCredential POSTs to the credential endpoint and extracts the
// short-lived secret. Non-2xx responses and empty secrets are fatal.
func (c *Connector) fetchCredential(ctx context.Context) (secret, instructions string, err error) {
	body, err := json.Marshal(map[string]string{
		"model": c.config.Model,
		"voice": c.config.Voice,
	})
	if err != nil {
		return "", "", credentialError(err, "failed to encode credential request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", "", credentialError(err, "failed to build credential request")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AppToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", transportError(err, "credential request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", "", credentialError(nil, fmt.Sprintf("credential endpoint returned %d", resp.StatusCode))
	}

	var cred credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return "", "", credentialError(err, "failed to decode credential response")
	}
	if cred.ClientSecret.Value == "" {
		return "", "", credentialError(nil, "credential response carried no secret")
	}
	return cred.ClientSecret.Value, cred.Instructions, nil
}

// NextReconnect consumes one unit of the retry budget. It returns the
// delay before the next attempt and false once the budget is exhausted.
func (c *Connector) NextReconnect() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempts >= c.config.MaxReconnects {
		return 0, false
	}
	c.attempts++
	return time.Duration(c.attempts) * c.config.ReconnectBackoff, true
}

// Close tears down the open channel, if any. Idempotent; cleanup
// failures are logged and swallowed.
func (c *Connector) Close() {
	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()

	if ch == nil {
		return
	}
	if err := ch.Close(); err != nil {
		c.logger.Debug("channel close failed", slog.String("error", err.Error()))
	}
}

// SessionID returns the diagnostic id minted for the current start cycle.
func (c *Connector) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}
