package github

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient(t *testing.T) {
	ctx := context.Background()

	client, err := NewClient(ctx, "test-token")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Client == nil || client.HTTP == nil {
		t.Fatalf("expected clients to be initialized")
	}

	// No token: still usable, just anonymous.
	client, err = NewClient(ctx, "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Client == nil {
		t.Error("Expected client to be initialized even without token")
	}
}

func TestNewClient_NilContextReturnsError(t *testing.T) {
	var nilCtx context.Context
	_, err := NewClient(nilCtx, "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "ctx is nil") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient(context.Background(), "", WithBaseURL("://bad"))
	if err == nil {
		t.Fatalf("expected error for invalid base URL")
	}
}

func TestNewClient_DownloadContentsThroughBaseURL(t *testing.T) {
	ctx := context.Background()

	var gotAuth string
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/repos/acme/assets/contents/img", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"type":"file","name":"logo.png","path":"img/logo.png","download_url":"`+server.URL+`/raw/logo.png"}]`)
	})
	mux.HandleFunc("/repos/acme/assets/contents/img/logo.png", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"type":"file","name":"logo.png","path":"img/logo.png","encoding":"base64","content":"UE5HREFUQQ=="}`)
	})
	mux.HandleFunc("/raw/logo.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "PNGDATA")
	})

	var buf bytes.Buffer
	c, err := NewClient(ctx, "test-token", WithBaseURL(server.URL), WithVerbose(true, &buf))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	rc, _, err := c.Client.Repositories.DownloadContents(ctx, "acme", "assets", "img/logo.png", nil)
	if err != nil {
		t.Fatalf("DownloadContents: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "PNGDATA" {
		t.Fatalf("unexpected body %q", body)
	}
	if !strings.Contains(gotAuth, "test-token") {
		t.Fatalf("expected Authorization header to contain token, got %q", gotAuth)
	}
	if !strings.Contains(buf.String(), "[verbose] github api: GET") {
		t.Fatalf("expected verbose log, got: %q", buf.String())
	}
}
