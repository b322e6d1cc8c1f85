package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestExpoSendPushSuccess(t *testing.T) {
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "push/send") {
			t.Fatalf("路径应包含 push/send, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"status": "ok", "id": "ticket-1"}},
		})
	}))
	defer srv.Close()

	provider := NewExpoProvider(ExpoOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	result, err := provider.SendPush(context.Background(), goodToken, "AAPL alert", "body", map[string]string{"alertId": "a1"})
	if err != nil {
		t.Fatalf("SendPush 应成功: %v", err)
	}
	if !result.OK || result.ID != "ticket-1" {
		t.Fatalf("result = %+v, 期望 ok + ticket-1", result)
	}

	if len(received) != 1 {
		t.Fatalf("应发送单条消息, 实际 %d", len(received))
	}
	if received[0]["to"] != goodToken {
		t.Fatalf("to 不正确: %#v", received[0])
	}
	if received[0]["title"] == "" {
		t.Fatal("title 应非空")
	}
}

func TestExpoSendPushTicketError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{
				"status":  "error",
				"message": "device is gone",
				"details": map[string]string{"error": "DeviceNotRegistered"},
			}},
		})
	}))
	defer srv.Close()

	provider := NewExpoProvider(ExpoOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	result, err := provider.SendPush(context.Background(), goodToken, "t", "b", nil)
	if err != nil {
		t.Fatalf("ticket 错误不应作为 error 返回: %v", err)
	}
	if result.OK {
		t.Fatal("error ticket 不应标记成功")
	}
	if result.ErrorMessage != "DeviceNotRegistered" {
		t.Fatalf("errorMessage = %q, 期望 details.error", result.ErrorMessage)
	}

	perr := Classify(result.ErrorMessage, result.HTTPStatus)
	if perr.Kind != KindDeviceNotRegistered || !perr.Permanent {
		t.Fatalf("classification = %+v, 期望永久错误", perr)
	}
}

func TestExpoSendPushHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"code": "RATE_LIMIT", "message": "slow down"}},
		})
	}))
	defer srv.Close()

	provider := NewExpoProvider(ExpoOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	result, err := provider.SendPush(context.Background(), goodToken, "t", "b", nil)
	if err != nil {
		t.Fatalf("HTTP 错误应归入 result: %v", err)
	}
	if result.OK || result.HTTPStatus != http.StatusTooManyRequests {
		t.Fatalf("result = %+v, 期望 429", result)
	}

	perr := Classify(result.ErrorMessage, result.HTTPStatus)
	if perr.Kind != KindRateLimited || perr.Permanent {
		t.Fatalf("classification = %+v, 期望瞬时错误", perr)
	}
}

func TestExpoSendPushAuthHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"status": "ok", "id": "t"}},
		})
	}))
	defer srv.Close()

	provider := NewExpoProvider(ExpoOptions{BaseURL: srv.URL, AccessToken: "secret", Timeout: time.Second}, zerolog.Nop())
	if _, err := provider.SendPush(context.Background(), goodToken, "t", "b", nil); err != nil {
		t.Fatalf("SendPush: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("Authorization = %q, 期望 Bearer secret", auth)
	}
}
