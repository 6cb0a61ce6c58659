package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendCompletion(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	if !n.CompletionEnabled() {
		t.Fatal("completion should be enabled")
	}
	if err := n.SendCompletion(context.Background(), "https://forms.example.com/forms/t/o/s/c"); err != nil {
		t.Fatalf("SendCompletion: %v", err)
	}
	if got["formURL"] != "https://forms.example.com/forms/t/o/s/c" {
		t.Fatalf("body = %v", got)
	}
}

func TestSendExpiration(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier("", srv.URL)
	if n.CompletionEnabled() {
		t.Fatal("completion should be disabled")
	}
	if !n.ExpirationEnabled() {
		t.Fatal("expiration should be enabled")
	}
	if err := n.SendExpiration(context.Background(), "owner-1", "sub-1"); err != nil {
		t.Fatalf("SendExpiration: %v", err)
	}
	if got["ownerId"] != "owner-1" || got["subId"] != "sub-1" {
		t.Fatalf("body = %v", got)
	}
}

func TestPost_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "")
	if err := n.SendCompletion(context.Background(), "u"); err == nil {
		t.Fatal("5xx response must surface as an error")
	}
}
