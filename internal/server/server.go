// Package server is the HTTP surface over the obfuscation core: request
// decoding, rate limiting, response caching and input sanitizing. The core
// pipeline itself stays a pure function of its inputs.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/benzoXdev/obfuslua/internal/engine"
)

const defaultMaxBatch = 16

var log = commonlog.GetLogger("obfuslua.server")

// Server wires the collaborators around the core.
type Server struct {
	limiter  *RateLimiter
	cache    *Cache
	maxBatch int
	started  time.Time

	requests  atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
}

func New(cfg engine.FileConfig) (*Server, error) {
	cache, err := NewCache(cfg.Serve.CachePath)
	if err != nil {
		return nil, err
	}
	maxBatch := cfg.Serve.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	return &Server{
		limiter:  NewRateLimiter(cfg.Serve.RatePerMinute, cfg.Serve.RateBurst),
		cache:    cache,
		maxBatch: maxBatch,
		started:  time.Now(),
	}, nil
}

func (s *Server) Close() error { return s.cache.Close() }

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /obfuscate", s.handleObfuscate)
	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /batch", s.handleBatch)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// ListenAndServe runs until the listener fails, sweeping idle rate buckets
// in the background.
func (s *Server) ListenAndServe(addr string) error {
	go func() {
		for range time.Tick(5 * time.Minute) {
			s.limiter.Sweep(30 * time.Minute)
		}
	}()
	log.Noticef("listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

type obfuscateRequest struct {
	Code    string         `json:"code"`
	Options map[string]any `json:"options"`
	Seed    *uint64        `json:"seed"`
}

type errorRecord struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	rec := errorRecord{
		Error:     msg,
		Details:   details,
		RequestID: uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(rec)
}

// statusFor maps core errors to HTTP classes.
func statusFor(err error) (int, string) {
	var pe *engine.ParseError
	if errors.As(err, &pe) {
		return http.StatusBadRequest, "parse error"
	}
	var re *engine.ResourceExceeded
	if errors.As(err, &re) {
		return http.StatusRequestEntityTooLarge, "resource exceeded"
	}
	var io *engine.InvalidOption
	if errors.As(err, &io) {
		return http.StatusBadRequest, "invalid option"
	}
	return http.StatusInternalServerError, "internal error"
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter.Allow(clientAddr(r)) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, "rate limited", "slow down and retry")
	return false
}

func decodeRequest(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, engine.MaxInputSize+64*1024)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", err.Error())
		return false
	}
	return true
}

// run executes one obfuscation request, consulting the cache first.
func (s *Server) run(req obfuscateRequest) (*engine.Result, error) {
	opts, err := engine.ResolveOptionMap(req.Options)
	if err != nil {
		return nil, err
	}
	var seed uint64
	if req.Seed != nil {
		seed = *req.Seed
	}
	source := Sanitize(req.Code)
	key := CacheKey(source, req.Options, seed)
	if res, ok := s.cache.Get(key); ok {
		s.cacheHits.Add(1)
		return res, nil
	}
	res, err := engine.Obfuscate([]byte(source), opts, seed)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(key, res); err != nil {
		log.Warningf("cache write failed: %v", err)
	}
	return res, nil
}

func (s *Server) handleObfuscate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	s.requests.Add(1)
	var req obfuscateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	res, err := s.run(req)
	if err != nil {
		s.failures.Add(1)
		status, kind := statusFor(err)
		log.Errorf("obfuscate failed (%s): %v", kind, err)
		writeError(w, status, kind, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	s.requests.Add(1)
	var req obfuscateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	features := engine.Analyze(Sanitize(req.Code))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(features)
}

type batchRequest struct {
	Jobs []obfuscateRequest `json:"jobs"`
}

type batchItem struct {
	Result *engine.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	s.requests.Add(1)
	var req batchRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.Jobs) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch", "supply at least one job")
		return
	}
	if len(req.Jobs) > s.maxBatch {
		writeError(w, http.StatusBadRequest, "batch too large",
			fmt.Sprintf("at most %d jobs per batch", s.maxBatch))
		return
	}
	items := make([]batchItem, len(req.Jobs))
	for i, job := range req.Jobs {
		res, err := s.run(job)
		if err != nil {
			s.failures.Add(1)
			items[i] = batchItem{Error: err.Error()}
			continue
		}
		items[i] = batchItem{Result: res}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"results": items})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"requests":  s.requests.Load(),
		"failures":  s.failures.Load(),
		"cacheHits": s.cacheHits.Load(),
	})
}
