package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benzoXdev/obfuslua/internal/engine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(engine.FileConfig{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestObfuscateEndpoint(t *testing.T) {
	s := newTestServer(t)
	seed := uint64(42)
	rec := postJSON(t, s.Handler(), "/obfuscate", obfuscateRequest{
		Code:    "local x = 1 return x",
		Options: map[string]any{"profile": "basic"},
		Seed:    &seed,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var res engine.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.CodeText == "" || res.Checksum == "" {
		t.Errorf("incomplete result: %+v", res)
	}
	if res.SecurityLevel != "basic" {
		t.Errorf("securityLevel = %s", res.SecurityLevel)
	}
}

func TestObfuscateParseErrorIs400(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s.Handler(), "/obfuscate", obfuscateRequest{Code: "local ="})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	var re errorRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &re); err != nil {
		t.Fatal(err)
	}
	if re.RequestID == "" || re.Timestamp == "" {
		t.Errorf("error record incomplete: %+v", re)
	}
	if !strings.Contains(re.Details, "offset") {
		t.Errorf("details should carry the parse offset: %q", re.Details)
	}
}

func TestObfuscateUnknownOptionIs400(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s.Handler(), "/obfuscate", obfuscateRequest{
		Code:    "return 1",
		Options: map[string]any{"nope": true},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestObfuscateCacheHit(t *testing.T) {
	s := newTestServer(t)
	seed := uint64(7)
	req := obfuscateRequest{Code: "return 2", Options: map[string]any{"profile": "basic"}, Seed: &seed}
	first := postJSON(t, s.Handler(), "/obfuscate", req)
	second := postJSON(t, s.Handler(), "/obfuscate", req)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status %d / %d", first.Code, second.Code)
	}
	if s.cacheHits.Load() != 1 {
		t.Errorf("cacheHits = %d, want 1", s.cacheHits.Load())
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Error("cached response must match the original")
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s.Handler(), "/analyze", obfuscateRequest{
		Code: "function f() return 1 end for i = 1, 3 do print(i) end",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var f engine.ScriptFeatures
	if err := json.Unmarshal(rec.Body.Bytes(), &f); err != nil {
		t.Fatal(err)
	}
	if f.FunctionCount != 1 || f.LoopCount != 1 {
		t.Errorf("analysis wrong: %+v", f)
	}
}

func TestBatchEndpoint(t *testing.T) {
	s := newTestServer(t)
	seed := uint64(1)
	rec := postJSON(t, s.Handler(), "/batch", batchRequest{Jobs: []obfuscateRequest{
		{Code: "return 1", Options: map[string]any{"profile": "basic"}, Seed: &seed},
		{Code: "local =", Seed: &seed}, // fails, but the batch continues
		{Code: "return 3", Options: map[string]any{"profile": "basic"}, Seed: &seed},
	}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		Results []batchItem `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("got %d results", len(out.Results))
	}
	if out.Results[0].Result == nil || out.Results[2].Result == nil {
		t.Error("successful jobs must carry results")
	}
	if out.Results[1].Error == "" {
		t.Error("failed job must carry its error in order")
	}
}

func TestBatchTooLarge(t *testing.T) {
	s := newTestServer(t)
	jobs := make([]obfuscateRequest, defaultMaxBatch+1)
	for i := range jobs {
		jobs[i] = obfuscateRequest{Code: "return 1"}
	}
	rec := postJSON(t, s.Handler(), "/batch", batchRequest{Jobs: jobs})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"uptime", "requests", "failures", "cacheHits"} {
		if _, ok := body[k]; !ok {
			t.Errorf("status missing %q", k)
		}
	}
}

func TestRateLimiting(t *testing.T) {
	s := newTestServer(t)
	s.limiter = NewRateLimiter(60, 2)
	h := s.Handler()
	codes := []int{}
	for i := 0; i < 4; i++ {
		rec := postJSON(t, h, "/analyze", obfuscateRequest{Code: "return 1"})
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first requests should pass: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request should be limited: %v", codes)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	clock := time.Unix(0, 0)
	rl.now = func() time.Time { return clock }
	if !rl.Allow("a") {
		t.Fatal("first request must pass")
	}
	if rl.Allow("a") {
		t.Fatal("bucket should be empty")
	}
	clock = clock.Add(2 * time.Second) // 60/min = 1/s
	if !rl.Allow("a") {
		t.Error("bucket should have refilled")
	}
	if !rl.Allow("b") {
		t.Error("a different client has its own bucket")
	}
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(60, 5)
	clock := time.Unix(0, 0)
	rl.now = func() time.Time { return clock }
	rl.Allow("stale")
	clock = clock.Add(time.Hour)
	rl.Allow("fresh")
	rl.Sweep(30 * time.Minute)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["stale"]; ok {
		t.Error("stale bucket survived sweep")
	}
	if _, ok := rl.buckets["fresh"]; !ok {
		t.Error("fresh bucket was swept")
	}
}

func TestCacheKeyCanonical(t *testing.T) {
	a := CacheKey("src", map[string]any{"x": true, "y": 1.0}, 5)
	b := CacheKey("src", map[string]any{"y": 1.0, "x": true}, 5)
	if a != b {
		t.Error("option order must not change the key")
	}
	if CacheKey("src", nil, 5) == CacheKey("src", nil, 6) {
		t.Error("seed must be part of the key")
	}
	if CacheKey("src1", nil, 5) == CacheKey("src2", nil, 5) {
		t.Error("source must be part of the key")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c, err := NewCache("")
	if err != nil {
		t.Fatal(err)
	}
	res := &engine.Result{CodeText: "return 1", OriginalSize: 8, ObfuscatedSize: 8,
		ExpansionRatio: "100.00%", SecurityLevel: "basic", Checksum: "00000000075bcd15", Seed: 3}
	if err := c.Put("k", res); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("entry not found")
	}
	if got.CodeText != res.CodeText || got.Checksum != res.Checksum || got.Seed != res.Seed {
		t.Errorf("round trip changed the result: %+v", got)
	}
	if string(got.Code) != res.CodeText {
		t.Error("Code bytes must be restored from the text")
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("missing key must miss")
	}
}

func TestCacheSQLite(t *testing.T) {
	path := t.TempDir() + "/cache.db"
	c, err := NewCache(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	res := &engine.Result{CodeText: "return 2", Checksum: "0000000000000042"}
	if err := c.Put("k2", res); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get("k2")
	if !ok || got.CodeText != "return 2" {
		t.Fatalf("sqlite round trip failed: %+v ok=%v", got, ok)
	}
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"print(1)", "print(1)"},
		{"a\x1b[31mb", "ab"},
		{"a\x00b\x07c", "abc"},
		{"keep\tws\nand\r\n-- comments", "keep\tws\nand\r\n-- comments"},
		{"del\x7Fete", "delete"},
	}
	for _, c := range cases {
		if got := Sanitize(c.in); got != c.want {
			t.Errorf("Sanitize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
