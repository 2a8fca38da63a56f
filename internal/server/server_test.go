package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lecternlabs/lectern-core/internal/chunkstore"
	"github.com/lecternlabs/lectern-core/internal/config"
	"github.com/lecternlabs/lectern-core/internal/jobstore"
	"github.com/lecternlabs/lectern-core/internal/narrate"
	"github.com/lecternlabs/lectern-core/internal/pipeline"
	"github.com/lecternlabs/lectern-core/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, jobstore.Store) {
	t.Helper()
	log := testLogger()
	jobs := jobstore.NewMemory(config.JobStoreConfig{})
	chunks, err := chunkstore.New(t.TempDir(), log)
	if err != nil {
		t.Fatal(err)
	}
	mock := provider.NewMock(config.ProviderConfig{Enabled: true, MaxChunkSize: 4000, Priority: 1})
	mgr := provider.NewManager([]provider.Provider{mock}, log)
	cfg := config.Default()
	orch := pipeline.New(cfg, pipeline.Deps{
		Providers: mgr,
		Extractor: narrate.NewMockExtractor(),
		Chunks:    chunks,
		Jobs:      jobs,
	}, log)

	mux := http.NewServeMux()
	New(cfg, orch, jobs, chunks, nil, log).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, jobs
}

func postDocument(t *testing.T, srv *httptest.Server, body string) (*http.Response, []string) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/narrations", "text/plain", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line != "" && !strings.HasPrefix(line, ":") {
			lines = append(lines, line)
		}
	}
	return resp, lines
}

func TestCreateNarrationStreamsEvents(t *testing.T) {
	srv, jobs := newTestServer(t)

	resp, lines := postDocument(t, srv, "A short document about owls.")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}
	jobID := resp.Header.Get("X-Narration-ID")
	if jobID == "" {
		t.Fatal("missing X-Narration-ID header")
	}

	var types []string
	for _, line := range lines {
		var evt struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", line, err)
		}
		types = append(types, evt.Type)
	}
	if types[0] != "extraction_start" || types[len(types)-1] != "complete" {
		t.Fatalf("unexpected event sequence: %v", types)
	}

	job, err := jobs.Get(context.Background(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != jobstore.StatusCompleted {
		t.Fatalf("job status = %s", job.Status)
	}
}

func TestCreateNarrationEmptyBody(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/v1/narrations", "text/plain", strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestGetNarrationAndArtifacts(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := postDocument(t, srv, "Another document, this time about herons.")
	jobID := resp.Header.Get("X-Narration-ID")

	get, err := http.Get(srv.URL + "/v1/narrations/" + jobID)
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", get.StatusCode)
	}
	var job jobstore.Job
	if err := json.NewDecoder(get.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.ID != jobID || job.TotalChunks == 0 {
		t.Fatalf("unexpected job: %+v", job)
	}

	audio, err := http.Get(srv.URL + "/v1/narrations/" + jobID + "/audio")
	if err != nil {
		t.Fatal(err)
	}
	defer audio.Body.Close()
	if audio.StatusCode != http.StatusOK {
		t.Fatalf("audio status = %d", audio.StatusCode)
	}
	data, _ := io.ReadAll(audio.Body)
	if len(data) == 0 {
		t.Fatal("audio artifact is empty")
	}

	chunk, err := http.Get(srv.URL + "/v1/narrations/" + jobID + "/chunks/0")
	if err != nil {
		t.Fatal(err)
	}
	defer chunk.Body.Close()
	if chunk.StatusCode != http.StatusOK {
		t.Fatalf("chunk status = %d", chunk.StatusCode)
	}
}

func TestEventsReplayMatchesStream(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, lines := postDocument(t, srv, "Replay me later.")
	jobID := resp.Header.Get("X-Narration-ID")

	replay, err := http.Get(srv.URL + "/v1/narrations/" + jobID + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer replay.Body.Close()
	raw, _ := io.ReadAll(replay.Body)
	replayLines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(replayLines) != len(lines) {
		t.Fatalf("replay has %d events, stream had %d", len(replayLines), len(lines))
	}
}

func TestNotFoundRoutes(t *testing.T) {
	srv, jobs := newTestServer(t)
	for _, path := range []string{
		"/v1/narrations/ghost",
		"/v1/narrations/ghost/events",
		"/v1/narrations/ghost/audio",
		"/v1/narrations/ghost/chunks/0",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: status = %d", path, resp.StatusCode)
		}
	}

	// Audio for a job that exists but has not finished is a conflict.
	if err := jobs.Create(context.Background(), &jobstore.Job{ID: "pending-1", Status: jobstore.StatusRunning}); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get(srv.URL + "/v1/narrations/pending-1/audio")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("pending audio: status = %d", resp.StatusCode)
	}
}

func TestListNarrations(t *testing.T) {
	srv, _ := newTestServer(t)
	postDocument(t, srv, "First document.")
	postDocument(t, srv, "Second document.")

	resp, err := http.Get(srv.URL + "/v1/narrations?limit=1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Narrations []jobstore.Job `json:"narrations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Narrations) != 1 {
		t.Fatalf("want 1 narration, got %d", len(out.Narrations))
	}
}
