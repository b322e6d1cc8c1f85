package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const expoSendPath = "/--/api/v2/push/send"

// ExpoProvider 通过 Expo Push API 推送消息。
type ExpoProvider struct {
	baseURL     string
	accessToken string
	client      *http.Client
	logger      zerolog.Logger
}

// ExpoOptions parameterise the Expo provider.
type ExpoOptions struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// NewExpoProvider 构造 Expo 推送适配器。
func NewExpoProvider(opts ExpoOptions, logger zerolog.Logger) *ExpoProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://exp.host"
	}
	return &ExpoProvider{
		baseURL:     baseURL,
		accessToken: opts.AccessToken,
		client:      &http.Client{Timeout: timeout},
		logger:      logger.With().Str("component", "expo_provider").Logger(),
	}
}

type expoMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Sound string            `json:"sound,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// SendPush posts one message and normalizes the ticket into PushResult.
// Transport failures are returned as errors; provider-reported failures come
// back in the result so the dispatcher can classify them.
func (p *ExpoProvider) SendPush(ctx context.Context, token, title, body string, data map[string]string) (PushResult, error) {
	payload, err := json.Marshal([]expoMessage{{
		To:    token,
		Title: title,
		Body:  body,
		Data:  data,
		Sound: "default",
	}})
	if err != nil {
		return PushResult{}, fmt.Errorf("marshal expo payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+expoSendPath, bytes.NewReader(payload))
	if err != nil {
		return PushResult{}, fmt.Errorf("create expo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.accessToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return PushResult{}, fmt.Errorf("send expo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PushResult{}, fmt.Errorf("read expo response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PushResult{
			ErrorMessage: expoErrorText(resp.StatusCode, raw),
			HTTPStatus:   resp.StatusCode,
		}, nil
	}

	var parsed expoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return PushResult{}, fmt.Errorf("decode expo response: %w", err)
	}

	if len(parsed.Errors) > 0 {
		return PushResult{
			ErrorMessage: fmt.Sprintf("%s: %s", parsed.Errors[0].Code, parsed.Errors[0].Message),
			HTTPStatus:   resp.StatusCode,
		}, nil
	}
	if len(parsed.Data) == 0 {
		return PushResult{ErrorMessage: "expo 返回空 ticket 列表", HTTPStatus: resp.StatusCode}, nil
	}

	ticket := parsed.Data[0]
	if ticket.Status == "ok" {
		p.logger.Debug().Str("ticket_id", ticket.ID).Msg("推送已受理 (Expo)")
		return PushResult{OK: true, ID: ticket.ID, HTTPStatus: resp.StatusCode}, nil
	}

	message := ticket.Details.Error
	if message == "" {
		message = ticket.Message
	}
	return PushResult{ErrorMessage: message, HTTPStatus: resp.StatusCode}, nil
}

func expoErrorText(status int, payload []byte) string {
	var parsed expoResponse
	if err := json.Unmarshal(payload, &parsed); err == nil && len(parsed.Errors) > 0 {
		return fmt.Sprintf("%s: %s", parsed.Errors[0].Code, parsed.Errors[0].Message)
	}
	if len(payload) > 0 {
		return fmt.Sprintf("expo api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Sprintf("expo api error (%d)", status)
}

var _ Provider = (*ExpoProvider)(nil)
