package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendMessageOK(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/sendMessage" {
			t.Errorf("path = %q, want /bottest-token/sendMessage", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	if err := c.SendMessage(context.Background(), 42, "🕌 Fajr is in 15 minutes (05:30)"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.ChatID != 42 {
		t.Fatalf("chat_id = %d, want 42", got.ChatID)
	}
	if got.ParseMode != "HTML" {
		t.Fatalf("parse_mode = %q, want HTML", got.ParseMode)
	}
}

func TestSendMessageRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	err := c.SendMessage(context.Background(), 42, "hi")

	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want *RateLimitedError", err)
	}
	if rateErr.RetryAfter != 7*time.Second {
		t.Fatalf("retry after = %v, want 7s", rateErr.RetryAfter)
	}
}

func TestSendMessageRateLimitedDefaultCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	err := c.SendMessage(context.Background(), 42, "hi")

	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("err = %v, want *RateLimitedError", err)
	}
	if rateErr.RetryAfter != 5*time.Second {
		t.Fatalf("retry after = %v, want 5s default", rateErr.RetryAfter)
	}
}

func TestSendMessageRecipientBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	err := c.SendMessage(context.Background(), 42, "hi")
	if !errors.Is(err, ErrRecipientBlocked) {
		t.Fatalf("err = %v, want ErrRecipientBlocked", err)
	}
}

func TestSendMessageTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	err := c.SendMessage(context.Background(), 42, "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	var rateErr *RateLimitedError
	if errors.As(err, &rateErr) || errors.Is(err, ErrRecipientBlocked) {
		t.Fatalf("5xx must map to a transient error, got %v", err)
	}
}

func TestSendMessageTruncatesLongText(t *testing.T) {
	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token")
	long := strings.Repeat("a", maxMessageLen+100)
	if err := c.SendMessage(context.Background(), 42, long); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(got.Text) != maxMessageLen {
		t.Fatalf("sent %d chars, want truncation to %d", len(got.Text), maxMessageLen)
	}
}
