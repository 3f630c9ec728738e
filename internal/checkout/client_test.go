package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateSession_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/v1/sessions" {
			t.Fatalf("path = %s, want /api/v1/sessions", r.URL.Path)
		}

		var req CreateSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.UserID != 7 || req.Hours != 3 || req.TvNumber != "0101" {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(Session{
			ID:  "cs_test_1",
			URL: "https://pay.example.com/cs_test_1",
		}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := client.CreateSession(ctx, CreateSessionRequest{
		UserID:   7,
		Hours:    3,
		TvNumber: "0101",
	})
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if session.ID != "cs_test_1" {
		t.Fatalf("session id = %q, want cs_test_1", session.ID)
	}
	if session.URL != "https://pay.example.com/cs_test_1" {
		t.Fatalf("unexpected session url: %q", session.URL)
	}
}

func TestCreateSession_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.CreateSession(ctx, CreateSessionRequest{UserID: 1, Hours: 1, TvNumber: "0001"}); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}

func TestCreateSession_NotConfigured(t *testing.T) {
	var client *Client

	if _, err := client.CreateSession(context.Background(), CreateSessionRequest{}); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	sig := Sign(secret, body)

	if !VerifySignature(secret, body, sig) {
		t.Fatalf("valid signature rejected")
	}
	if VerifySignature(secret, body, sig+"00") {
		t.Fatalf("tampered signature accepted")
	}
	if VerifySignature(secret, []byte(`{"id":"evt_2"}`), sig) {
		t.Fatalf("signature accepted for different body")
	}
	if VerifySignature([]byte("other-secret"), body, sig) {
		t.Fatalf("signature accepted with wrong secret")
	}
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","metadata":{"user_id":7,"hours":3,"tv_number":"0101","room_number":"12"}}`)

	event, err := ParseEvent(body)
	if err != nil {
		t.Fatalf("ParseEvent error: %v", err)
	}
	if event.ID != "evt_1" || event.Type != EventTypeSessionCompleted {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata.UserID != 7 || event.Metadata.Hours != 3 || event.Metadata.TvNumber != "0101" {
		t.Fatalf("unexpected metadata: %+v", event.Metadata)
	}
	if event.Metadata.RoomNumber == nil || *event.Metadata.RoomNumber != "12" {
		t.Fatalf("unexpected room number: %v", event.Metadata.RoomNumber)
	}

	if _, err := ParseEvent([]byte(`{"type":"checkout.session.completed"}`)); err == nil {
		t.Fatalf("expected error for event without id")
	}

	if _, err := ParseEvent([]byte(`not-json`)); err == nil {
		t.Fatalf("expected error for malformed body")
	}
}
