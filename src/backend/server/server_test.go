package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hannes/meshchat/src/backend/config"
	"github.com/hannes/meshchat/src/backend/generate"
	"github.com/hannes/meshchat/src/backend/providers"
	"github.com/hannes/meshchat/src/backend/store"
)

// scriptedBackend replays fixed deltas for handler tests.
type scriptedBackend struct {
	deltas []providers.Delta
}

func (b *scriptedBackend) GetName() string { return "scripted" }

func (b *scriptedBackend) Stream(ctx context.Context, req providers.Request) (<-chan providers.Delta, error) {
	out := make(chan providers.Delta)
	go func() {
		defer close(out)
		for _, d := range b.deltas {
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *scriptedBackend) Close() error { return nil }

func testServer(t *testing.T, deltas []providers.Delta, transcripts store.TranscriptStore) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	engine := generate.NewEngine(&scriptedBackend{deltas: deltas}, nil, transcripts, cfg.Generation, cfg.Logging)
	srv := NewServer(cfg, engine, transcripts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

const pyramidOBJ = `v 0 1 0
v -1 0 -1
v 1 0 -1
v 1 0 1
v -1 0 1
f 1 2 3
f 1 3 4
f 1 4 5
f 1 5 2
f 2 4 3
f 2 5 4
`

func TestHealthCheck(t *testing.T) {
	ts := testServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("unexpected health payload: %v", body)
	}
}

// sseFrames posts a chat request and returns the decoded data frames.
func sseFrames(t *testing.T, ts *httptest.Server, payload string) []string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("chat request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	var frames []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	return frames
}

func TestChatStreamsEvents(t *testing.T) {
	ts := testServer(t, []providers.Delta{
		{Text: "Here you go:\n```obj\n" + pyramidOBJ + "```\n"},
		{Done: true},
	}, store.NewMemoryStore())

	frames := sseFrames(t, ts, `{"message":"Create a 3D model of a pyramid in obj format"}`)
	if len(frames) < 3 {
		t.Fatalf("expected delta, mesh, done and sentinel frames, got %v", frames)
	}
	if frames[len(frames)-1] != "[DONE]" {
		t.Errorf("stream must end with [DONE], got %q", frames[len(frames)-1])
	}

	var sawDelta, sawMesh, sawDone bool
	for _, frame := range frames[:len(frames)-1] {
		var ev struct {
			Type string `json:"type"`
			Text string `json:"text"`
			OBJ  string `json:"obj"`
		}
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			t.Fatalf("frame is not JSON: %q", frame)
		}
		switch ev.Type {
		case "delta":
			sawDelta = true
		case "mesh":
			sawMesh = true
			if !strings.Contains(ev.OBJ, "f 2 5 4") {
				t.Errorf("mesh frame missing geometry: %q", ev.OBJ)
			}
		case "done":
			sawDone = true
		}
	}
	if !sawDelta || !sawMesh || !sawDone {
		t.Errorf("missing frames: delta=%v mesh=%v done=%v", sawDelta, sawMesh, sawDone)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	ts := testServer(t, nil, nil)

	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChatRejectsGet(t *testing.T) {
	ts := testServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/api/chat")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestVisualizeReturnsGLB(t *testing.T) {
	ts := testServer(t, nil, nil)

	payload, _ := json.Marshal(map[string]string{"obj": pyramidOBJ})
	resp, err := http.Post(ts.URL+"/api/mesh/visualize", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("visualize request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "model/gltf-binary" {
		t.Errorf("unexpected content type %q", ct)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("glTF")) {
		t.Errorf("response is not a binary glTF container")
	}
}

func TestVisualizeAcceptsRawOBJ(t *testing.T) {
	ts := testServer(t, nil, nil)

	resp, err := http.Post(ts.URL+"/api/mesh/visualize", "text/plain", strings.NewReader(pyramidOBJ))
	if err != nil {
		t.Fatalf("visualize request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestVisualizeExtractsFromChatOutput(t *testing.T) {
	ts := testServer(t, nil, nil)

	wrapped := "Sure, here is a pyramid:\n```obj\n" + pyramidOBJ + "```\nEnjoy."
	payload, _ := json.Marshal(map[string]string{"obj": wrapped})
	resp, err := http.Post(ts.URL+"/api/mesh/visualize", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("visualize request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestVisualizeRejectsInvalidOBJ(t *testing.T) {
	ts := testServer(t, nil, nil)

	resp, err := http.Post(ts.URL+"/api/mesh/visualize", "text/plain", strings.NewReader("not a mesh at all"))
	if err != nil {
		t.Fatalf("visualize request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestVisualizeRejectsOversizedInput(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mesh.MaxOBJBytes = 64
	engine := generate.NewEngine(&scriptedBackend{}, nil, nil, cfg.Generation, cfg.Logging)
	ts := httptest.NewServer(NewServer(cfg, engine, nil).Handler())
	defer ts.Close()

	big := strings.Repeat("v 0 0 0\n", 100)
	resp, err := http.Post(ts.URL+"/api/mesh/visualize", "text/plain", strings.NewReader(big))
	if err != nil {
		t.Fatalf("visualize request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.StatusCode)
	}
}

func TestVisualizeRecordsStats(t *testing.T) {
	transcripts := store.NewMemoryStore()
	ts := testServer(t, nil, transcripts)

	resp, err := http.Post(ts.URL+"/api/mesh/visualize", "text/plain", strings.NewReader(pyramidOBJ))
	if err != nil {
		t.Fatalf("visualize request failed: %v", err)
	}
	resp.Body.Close()

	vs := transcripts.Visualizations()
	if len(vs) != 1 {
		t.Fatalf("expected 1 recorded visualization, got %d", len(vs))
	}
	if vs[0].VertexCount != 5 || vs[0].FaceCount != 6 {
		t.Errorf("unexpected stats: %+v", vs[0])
	}
}

func TestTranscriptsListAndClear(t *testing.T) {
	transcripts := store.NewMemoryStore()
	for i := 0; i < 3; i++ {
		turn := &store.Turn{Role: "user", Content: fmt.Sprintf("prompt %d", i)}
		if err := transcripts.AppendTurn(context.Background(), turn); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	ts := testServer(t, nil, transcripts)

	resp, err := http.Get(ts.URL + "/api/transcripts?limit=2")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	var body struct {
		Turns []store.Turn `json:"turns"`
		Total int          `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode list: %v", err)
	}
	resp.Body.Close()
	if body.Total != 3 || len(body.Turns) != 2 {
		t.Errorf("expected total 3 with 2 turns, got total %d with %d", body.Total, len(body.Turns))
	}
	if body.Turns[0].Content != "prompt 2" {
		t.Errorf("expected newest first, got %q", body.Turns[0].Content)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/transcripts", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("clear request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}

	count, _ := transcripts.GetTurnsCount(context.Background())
	if count != 0 {
		t.Errorf("expected cleared store, got %d turns", count)
	}
}

func TestExamplesEndpoint(t *testing.T) {
	ts := testServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/api/examples")
	if err != nil {
		t.Fatalf("examples request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode examples: %v", err)
	}
	if len(body["examples"]) != len(examplePrompts) {
		t.Errorf("expected %d examples, got %d", len(examplePrompts), len(body["examples"]))
	}
}

func TestTokenizeEndpoint(t *testing.T) {
	ts := testServer(t, nil, nil)

	resp, err := http.Post(ts.URL+"/api/tokenize", "application/json",
		strings.NewReader(`{"text":"Create a 3D model of a chair."}`))
	if err != nil {
		t.Fatalf("tokenize request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode token count: %v", err)
	}
	if body["tokens"] <= 0 {
		t.Errorf("expected a positive token count, got %d", body["tokens"])
	}
}

func TestChatRateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	engine := generate.NewEngine(&scriptedBackend{deltas: []providers.Delta{{Done: true}}}, nil, nil, cfg.Generation, cfg.Logging)
	ts := httptest.NewServer(NewServer(cfg, engine, nil).Handler())
	defer ts.Close()

	payload := `{"message":"hi"}`
	resp, err := http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request should pass, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/chat", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
}

func TestVisualizeRateLimited(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	engine := generate.NewEngine(&scriptedBackend{}, nil, nil, cfg.Generation, cfg.Logging)
	ts := httptest.NewServer(NewServer(cfg, engine, nil).Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/mesh/visualize", "text/plain", strings.NewReader(pyramidOBJ))
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request should pass, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/mesh/visualize", "text/plain", strings.NewReader(pyramidOBJ))
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp.StatusCode)
	}
}

func TestIPLimiterIsolatesClients(t *testing.T) {
	l := newIPLimiter(0.001, 1)
	if !l.allow("10.0.0.1") {
		t.Fatal("first request from a client must pass")
	}
	if l.allow("10.0.0.1") {
		t.Error("burst exhausted, second request must be limited")
	}
	if !l.allow("10.0.0.2") {
		t.Error("a different client must not be affected")
	}
}
