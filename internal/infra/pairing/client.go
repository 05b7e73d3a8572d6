// Package pairing provides the pairing code handshake with the overlay server.
package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

const consumePath = "/overlay/pairing/consume"

var (
	ErrInvalidServerURL = errors.New("server url must be an http(s) url")
	ErrMissingCode      = errors.New("pairing code is required")
	ErrIncomplete       = errors.New("pairing response is missing credentials")
)

// Result holds the credentials issued by the server.
type Result struct {
	ServerURL   string `json:"-"`
	ClientToken string `json:"clientToken"`
	GuildID     string `json:"guildId"`
	ClientID    string `json:"clientId"`
}

// apiError represents an error response from the pairing endpoint.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client consumes pairing codes.
type Client struct {
	httpClient *http.Client
}

// New creates a new pairing client.
func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NormalizeServerURL trims the URL and checks it is http(s) with a host.
func NormalizeServerURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidServerURL
	}
	return trimmed, nil
}

// Consume exchanges a pairing code for client credentials.
func (c *Client) Consume(ctx context.Context, serverURL, code string) (*Result, error) {
	base, err := NormalizeServerURL(serverURL)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrMissingCode
	}

	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+consumePath, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		msg := ""
		if err := json.Unmarshal(respBody, &apiErr); err == nil {
			msg = apiErr.Error
			if msg == "" {
				msg = apiErr.Message
			}
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, errors.Newf("pairing failed (%d): %s", resp.StatusCode, msg)
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}
	if result.ClientToken == "" || result.ClientID == "" {
		return nil, ErrIncomplete
	}
	result.ServerURL = base

	zlog.Info().Msgf("pairing: consumed: guild_id=%s client_id=%s", result.GuildID, result.ClientID)
	return &result, nil
}
