package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"yt-analyzer-client/internal/api"
)

func TestClient_Analyze_Success(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/video/analyze" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"jobId":"J1","videoId":"abc"}}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL)
	data, err := c.Analyze(context.Background(), "https://youtu.be/abc", "key-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if data.JobID != "J1" || data.VideoID != "abc" {
		t.Fatalf("unexpected data: %+v", data)
	}
	if gotKey != "key-1" {
		t.Fatalf("expected idempotency key to be sent, got %q", gotKey)
	}
}

func TestClient_Analyze_ServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"quota exceeded"}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL)
	_, err := c.Analyze(context.Background(), "https://youtu.be/abc", "")
	if err == nil || err.Error() != "quota exceeded" {
		t.Fatalf("expected server message as error, got %v", err)
	}
}

func TestClient_Status_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL)
	_, err := c.Status(context.Background(), "gone")
	if !errors.Is(err, api.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClient_Status_EmptyDataMeansNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":null}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL)
	_, err := c.Status(context.Background(), "J1")
	if !errors.Is(err, api.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClient_Status_ActiveAndCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/video/status/J1":
			w.Write([]byte(`{"success":true,"data":{"state":"active","progress":55}}`))
		case "/video/status/J2":
			w.Write([]byte(`{"success":true,"data":{"state":"completed","progress":100,"returnvalue":{"ok":true}}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL)

	st, err := c.Status(context.Background(), "J1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if st.State != "active" || st.Progress != 55 {
		t.Fatalf("unexpected status: %+v", st)
	}

	st, err = c.Status(context.Background(), "J2")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if st.State != "completed" || string(st.ReturnValue) != `{"ok":true}` {
		t.Fatalf("unexpected status: %+v", st)
	}
}
