package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendPostmarkRequest(t *testing.T) {
	var got postmarkEmail
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"ErrorCode":0}`))
	}))
	defer srv.Close()

	c := NewClient("server-token", "noreply@vaultis.app", WithAPIURL(srv.URL))
	err := c.Send(context.Background(), Message{
		To:       "alice@example.com",
		Subject:  "Your backup is ready",
		TextBody: "done",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotToken != "server-token" {
		t.Errorf("server token header = %q", gotToken)
	}
	if got.From != "noreply@vaultis.app" || got.To != "alice@example.com" {
		t.Errorf("addressing = %+v", got)
	}
	if got.Subject != "Your backup is ready" {
		t.Errorf("subject = %q", got.Subject)
	}
}

func TestSendFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ErrorCode":300}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient("server-token", "noreply@vaultis.app", WithAPIURL(srv.URL))
	if err := c.Send(context.Background(), Message{To: "a@example.com"}); err == nil {
		t.Error("expected an error on a 4xx response")
	}

	unconfigured := NewClient("", "noreply@vaultis.app", WithAPIURL(srv.URL))
	if err := unconfigured.Send(context.Background(), Message{To: "a@example.com"}); err == nil {
		t.Error("expected an error when no server token is configured")
	}
}
