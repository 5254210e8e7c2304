package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tracklab/api/internal/config"
	"github.com/tracklab/api/internal/model"
)

func newTestClient(baseURL, apiKey string) *EngineClient {
	return NewEngineClient(&config.EngineConfig{BaseURL: baseURL, APIKey: apiKey, Timeout: 5})
}

func TestSubmit(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"job_id":"task-1","status":"accepted","message":"queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "secret")
	ack, err := c.Submit(context.Background(), &model.GenerationRequest{Prompt: "p", DurationSeconds: 30, Language: "en"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotPath != "/generate" {
		t.Errorf("path = %q, want /generate", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth = %q, want Bearer secret", gotAuth)
	}
	if gotBody["prompt"] != "p" {
		t.Errorf("body prompt = %v", gotBody["prompt"])
	}
	if ack.ExternalID != "task-1" {
		t.Errorf("externalId = %q, want task-1", ack.ExternalID)
	}
	if ack.Message != "queued" {
		t.Errorf("message = %q, want queued", ack.Message)
	}
}

func TestSubmitEngineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"model busy"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	_, err := c.Submit(context.Background(), &model.GenerationRequest{Prompt: "p"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q does not carry the status code", err.Error())
	}
	if !strings.Contains(err.Error(), "model busy") {
		t.Errorf("error %q does not carry the engine detail", err.Error())
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/task-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"job_id":"task-1","status":"generating_audio","progress":0.4,"message":"synthesizing"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	snap, err := c.Status(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Status != "generating_audio" {
		t.Errorf("status = %q", snap.Status)
	}
	if snap.Progress == nil || *snap.Progress != 0.4 {
		t.Errorf("progress = %v, want 0.4", snap.Progress)
	}
	if snap.Error != nil {
		t.Errorf("error should be absent, got %v", *snap.Error)
	}
}

func TestStatusOmittedFieldsStayNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"job_id":"task-1","status":"pending"}`))
	}))
	defer srv.Close()

	snap, err := newTestClient(srv.URL, "").Status(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Progress != nil || snap.Message != nil || snap.Error != nil {
		t.Errorf("omitted fields must decode to nil: %+v", snap)
	}
}

func TestResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/result/task-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"job_id":"task-1","duration":32.5,"mp3":{"path":"/outputs/task-1.mp3","sizeBytes":2048},"metadata":{"model":"v2"}}`))
	}))
	defer srv.Close()

	result, err := newTestClient(srv.URL, "").Result(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Duration != 32.5 {
		t.Errorf("duration = %v", result.Duration)
	}
	if result.MP3 == nil || result.MP3.Path != "/outputs/task-1.mp3" {
		t.Errorf("mp3 = %+v", result.MP3)
	}
	if result.WAV != nil {
		t.Error("wav should be absent")
	}
}

func TestFetchArtifactUsesBasename(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/task-1.mp3" {
			t.Errorf("path = %q, want /files/task-1.mp3", r.URL.Path)
		}
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL, "").FetchArtifact(context.Background(), "/outputs/task-1.mp3")
	if err != nil {
		t.Fatalf("FetchArtifact: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "audio-bytes" {
		t.Errorf("body = %q", data)
	}
}

func TestNoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"job_id":"task-1","status":"pending"}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, "").Status(context.Background(), "task-1"); err != nil {
		t.Fatalf("Status: %v", err)
	}
}
