package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"callpilot/internal/domain"
)

// Config controls the remote collaborator connection.
type Config struct {
	APIKey     string
	APIBaseURL string
	Timeout    time.Duration
}

// Client implements ports.CallAPI against the co-pilot backend.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.callpilot.dev/v1"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// CreateSession asks the backend for a new call session. The request carries
// an idempotency key so a retried create cannot leak a second session.
func (c *Client) CreateSession(ctx context.Context, teamID, closerID string) (string, error) {
	payload := map[string]string{
		"teamId":    teamID,
		"closerId":  closerID,
		"requestId": uuid.NewString(),
	}
	var resp struct {
		CallID string `json:"callId"`
	}
	if err := c.do(ctx, http.MethodPost, "/calls", payload, &resp); err != nil {
		return "", err
	}
	if resp.CallID == "" {
		return "", errors.New("backend did not assign a call id")
	}
	return resp.CallID, nil
}

func (c *Client) FinalizeSession(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/finalize", nil, nil)
}

func (c *Client) FetchAmmo(ctx context.Context, callID string) ([]domain.AmmoItem, error) {
	var items []domain.AmmoItem
	if err := c.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID)+"/ammo", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) FetchTranscript(ctx context.Context, callID string) ([]domain.TranscriptSegment, error) {
	var segs []domain.TranscriptSegment
	if err := c.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID)+"/transcript", nil, &segs); err != nil {
		return nil, err
	}
	return segs, nil
}

func (c *Client) FetchNudges(ctx context.Context, callID string) ([]domain.Nudge, error) {
	var nudges []domain.Nudge
	if err := c.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID)+"/nudges", nil, &nudges); err != nil {
		return nil, err
	}
	return nudges, nil
}

func (c *Client) UpdateNudge(ctx context.Context, callID, nudgeID string, status domain.NudgeStatus) error {
	path := "/calls/" + url.PathEscape(callID) + "/nudges/" + url.PathEscape(nudgeID)
	return c.do(ctx, http.MethodPatch, path, map[string]string{"status": string(status)}, nil)
}

func (c *Client) FetchMeta(ctx context.Context, callID string) (domain.CallMeta, error) {
	var meta domain.CallMeta
	if err := c.do(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID)+"/meta", nil, &meta); err != nil {
		return domain.CallMeta{}, err
	}
	return meta, nil
}

func (c *Client) ConfirmSpeaker(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/speaker/confirm", nil, nil)
}

func (c *Client) SwapSpeaker(ctx context.Context, callID string) error {
	return c.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/speaker/swap", nil, nil)
}

func (c *Client) SubmitOutcome(ctx context.Context, callID, outcome string) error {
	path := "/calls/" + url.PathEscape(callID) + "/outcome"
	return c.do(ctx, http.MethodPost, path, map[string]string{"outcome": outcome}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+path, reader)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("backend returned %s: %s", res.Status, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode backend response: %w", err)
		}
	}
	return nil
}
