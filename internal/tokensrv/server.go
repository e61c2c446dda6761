// Package tokensrv hosts the credential endpoint the voice client calls
// before opening a conversation: it validates the app token, then mints a
// short-lived session secret from the upstream provider so the provider
// API key never reaches the device.
package tokensrv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config describes the upstream mint endpoint and client authentication.
type Config struct {
	// UpstreamURL is the provider endpoint that mints session secrets.
	UpstreamURL string
	// APIKey authenticates against the upstream provider.
	APIKey string
	// AppToken is the bearer token clients must present. Empty disables
	// client authentication (local development only).
	AppToken string
	// Instructions, when set, replaces the instructions field in the
	// minted response before it reaches the client.
	Instructions string

	HTTPClient *http.Client
}

// Server implements the credential endpoint as an http.Handler.
type Server struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a credential server.
func New(config Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Server{config: config, http: client, logger: logger}
}

type mintRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.config.AppToken != "" && r.Header.Get("Authorization") != "Bearer "+s.config.AppToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	body, err := s.mint(r, req)
	if err != nil {
		s.logger.Error("credential mint failed", slog.String("error", err.Error()))
		http.Error(w, "failed to mint session credential", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// mint forwards the request upstream and rewrites the instructions field
// when the server is configured to pin them.
func (s *Server) mint(r *http.Request, req mintRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.config.UpstreamURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	upstream.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	upstream.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	if s.config.Instructions == "" {
		return body, nil
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	decoded["instructions"] = s.config.Instructions
	return json.Marshal(decoded)
}
