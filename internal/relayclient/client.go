// Package relayclient talks to the relay service over HTTP.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatrelay/pkg/domain"
)

// Client calls the relay over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a relay error response.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewClient constructs a relay client. The HTTP client carries no overall
// timeout because chat responses stream for as long as the model writes;
// callers bound requests through the context.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// StreamChat posts messages to /chat and returns the response body once the
// relay has sent its headers. The caller must close the returned reader.
func (c *Client) StreamChat(ctx context.Context, messages []domain.ChatMessage) (io.ReadCloser, error) {
	data, err := json.Marshal(chatRequest{Messages: messages})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// CheckModel calls /model-check.
func (c *Client) CheckModel(ctx context.Context) (domain.ModelCheck, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/model-check", nil)
	if err != nil {
		return domain.ModelCheck{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ModelCheck{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.ModelCheck{}, decodeError(resp)
	}
	var out domain.ModelCheck
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.ModelCheck{}, err
	}
	return out, nil
}

func decodeError(resp *http.Response) error {
	var errResp struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg, Details: errResp.Details}
}

type chatRequest struct {
	Messages []domain.ChatMessage `json:"messages"`
}
