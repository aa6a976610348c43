// Package openai implements translate.Provider against an OpenAI-compatible
// chat/completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/thread"
	"github.com/sakaguchi/xbot/translate"
)

// Client calls an OpenAI-compatible chat/completions endpoint.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.SugaredLogger
}

// NewClient creates a provider client. Zero-value config fields fall back to
// defaults (see Config).
func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.Named("openai"),
	}
}

// TranslateSegments implements translate.Provider.
func (c *Client) TranslateSegments(ctx context.Context, t *thread.Thread, profile translate.Profile) ([]string, error) {
	rid := uuid.New().String()

	sys := "You are a professional translator. Translate each numbered post into " +
		profile.TargetLanguage + ", preserving order, tone, and approximate length."
	if profile.Tone != "" {
		sys += " Desired tone: " + profile.Tone + "."
	}
	user := translate.BuildManualPrompt(t, profile) +
		"\nReturn ONLY a JSON object of the form {\"segments\": [\"...\"]}, one entry per post."

	content, err := c.chat(ctx, rid, sys, user)
	if err != nil {
		return nil, err
	}

	var out struct {
		Segments []string `json:"segments"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, errors.Wrap(err, "decode translation response")
	}
	if len(out.Segments) != len(t.Segments) {
		return nil, errors.Wrapf(translate.ErrContentRejected,
			"translation length mismatch: got %d segments, want %d", len(out.Segments), len(t.Segments))
	}

	c.log.Infow("translate.segments",
		"req_id", rid,
		"model", c.cfg.Model,
		"thread", t.RootID(),
		"segments", len(out.Segments),
	)
	return out.Segments, nil
}

// GenerateTitles implements translate.Provider.
func (c *Client) GenerateTitles(ctx context.Context, t *thread.Thread, translated []string, count int) ([]string, error) {
	rid := uuid.New().String()

	sys := "You write concise, compelling titles."
	user := translate.BuildTitlePrompt(t, translated, count) +
		"\nReturn ONLY a JSON object of the form {\"titles\": [\"...\"]}."

	content, err := c.chat(ctx, rid, sys, user)
	if err != nil {
		return nil, err
	}

	var out struct {
		Titles []string `json:"titles"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, errors.Wrap(err, "decode titles response")
	}
	if len(out.Titles) > count {
		out.Titles = out.Titles[:count]
	}
	return out.Titles, nil
}

// chat performs one chat/completions round trip and returns the first
// choice's content.
func (c *Client) chat(ctx context.Context, rid, system, user string) (string, error) {
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, rid, endpoint, body)
	if err != nil {
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", errors.Wrap(err, "decode provider response")
	}
	if len(cc.Choices) == 0 {
		return "", errors.New("no choices in provider response")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

func (c *Client) post(ctx context.Context, rid, endpoint string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "provider request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read provider response")
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warnw("provider error response",
			"req_id", rid,
			"status", resp.StatusCode,
			"body_bytes", len(raw),
		)
		return nil, classifyStatus(resp.StatusCode, raw)
	}
	return raw, nil
}

// classifyStatus maps provider HTTP failures onto the translate sentinels.
func classifyStatus(status int, body []byte) error {
	var apiErr struct {
		Error struct {
			Type string `json:"type"`
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case status == http.StatusTooManyRequests && apiErr.Error.Code == "insufficient_quota":
		return errors.Wrapf(translate.ErrQuotaExceeded, "status %d", status)
	case status == http.StatusTooManyRequests:
		return errors.Wrapf(translate.ErrRateLimited, "status %d", status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Wrapf(translate.ErrAuth, "status %d", status)
	case status == http.StatusBadRequest && apiErr.Error.Type == "invalid_request_error":
		return errors.Wrapf(translate.ErrContentRejected, "status %d", status)
	default:
		return errors.Newf("provider returned status %d", status)
	}
}
