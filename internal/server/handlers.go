package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ndwlabs/ndw-gateway/internal/docmodel"
	"github.com/ndwlabs/ndw-gateway/internal/metrics"
	"github.com/ndwlabs/ndw-gateway/internal/prefetch"
	"github.com/ndwlabs/ndw-gateway/internal/provider"
)

type generateRequest struct {
	Brief string `json:"brief,omitempty"`
	Seed  int    `json:"seed,omitempty"`
}

// setRateLimitHeaders attaches the X-RateLimit-* headers required on every
// /generate response, admitted or denied.
func setRateLimitHeaders(w http.ResponseWriter, remaining int, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func (s *Server) rateLimitOrDeny(w http.ResponseWriter) bool {
	decision := s.bucket.Allow(time.Now())
	setRateLimitHeaders(w, decision.Remaining, decision.ResetAt)
	if decision.Allowed {
		return true
	}
	metrics.RateLimitDeniedTotal.Inc()
	w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
	s.respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error":               "rate limit exceeded",
		"reset":               decision.ResetAt.Unix(),
		"retry_after_seconds": int(decision.RetryAfter.Seconds()),
	})
	return false
}

func offlineDoc(brief string) *docmodel.Doc {
	html := "<!doctype html><html><body><main id=\"ndw-shell\">" +
		"<p>Offline placeholder" +
		htmlEscapeBrief(brief) +
		"</p></main></body></html>"
	return &docmodel.Doc{Kind: docmodel.KindFullPage, HTML: html, Category: "offline"}
}

func htmlEscapeBrief(brief string) string {
	if brief == "" {
		return ""
	}
	return ": " + brief
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimitOrDeny(w) {
		return
	}

	var req generateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if !s.anyProviderConfigured() {
		switch {
		case s.cfg.TestMode:
			s.respondJSON(w, http.StatusOK, stubDoc(s.stub, req.Brief, req.Seed))
			return
		case s.cfg.OfflineAllow:
			s.respondJSON(w, http.StatusOK, offlineDoc(req.Brief))
			return
		default:
			s.respondError(w, http.StatusServiceUnavailable, "no LLM provider configured")
			return
		}
	}

	if doc, ok := s.queue.Dequeue(); ok {
		if s.prefetch.ServeDelayMS > 0 {
			time.Sleep(time.Duration(s.prefetch.ServeDelayMS) * time.Millisecond)
		}
		metrics.GenerationsTotal.WithLabelValues("prefetch").Inc()
		s.counter.Increment(1)
		if s.queue.Size() <= s.prefetch.LowWater && s.scheduler != nil {
			s.scheduler.TriggerTopUp(context.Background(), "", 0)
		}
		s.respondJSON(w, http.StatusOK, doc)
		return
	}

	result := s.engine.Generate(r.Context(), req.Brief, req.Seed, requestUserKey(r), s.reviewEnabled(), nil)
	if result.Error != "" {
		s.respondJSON(w, http.StatusOK, docmodel.Doc{Error: result.Error})
		return
	}
	metrics.GenerationsTotal.WithLabelValues("live").Inc()
	s.counter.Increment(1)
	s.respondJSON(w, http.StatusOK, result.Doc)
}

func stubDoc(stub provider.Client, brief string, seed int) *docmodel.Doc {
	doc, err := stub.GeneratePage(context.Background(), brief, seed, "")
	if err != nil || doc == nil {
		return &docmodel.Doc{Error: "Model generation failed"}
	}
	return doc
}

func requestUserKey(r *http.Request) string {
	if v := r.Header.Get("X-NDW-User"); v != "" {
		return v
	}
	return r.RemoteAddr
}

func (s *Server) reviewEnabled() bool { return s.reviewOn }

type ndjsonEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimitOrDeny(w) {
		return
	}

	var req generateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	reqID := middleware.GetReqID(r.Context())
	if err := enc.Encode(ndjsonEvent{Event: "meta", RequestID: reqID}); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}

	if !s.anyProviderConfigured() {
		if s.cfg.TestMode {
			_ = enc.Encode(ndjsonEvent{Event: "page", Data: stubDoc(s.stub, req.Brief, req.Seed)})
			return
		}
		if s.cfg.OfflineAllow {
			_ = enc.Encode(ndjsonEvent{Event: "page", Data: offlineDoc(req.Brief)})
			return
		}
		_ = enc.Encode(ndjsonEvent{Event: "error", Data: map[string]string{"error": "no LLM provider configured"}})
		return
	}

	if doc, ok := s.queue.Dequeue(); ok {
		metrics.GenerationsTotal.WithLabelValues("prefetch").Inc()
		s.counter.Increment(1)
		_ = enc.Encode(ndjsonEvent{Event: "page", Data: doc})
		if flusher != nil {
			flusher.Flush()
		}
		if s.queue.Size() <= s.prefetch.LowWater && s.scheduler != nil {
			s.scheduler.TriggerTopUp(context.Background(), "", 0)
		}
		return
	}

	directive := s.rotator.Next(requestUserKey(r))
	var served bool
	var spareIDs []string
	for _, p := range s.configuredProviders() {
		if !p.SupportsBurst() {
			continue
		}
		_, err := p.GenerateBurst(r.Context(), req.Brief, req.Seed, func(doc *docmodel.Doc) {
			if served {
				doc.Category = directive.Name
				if id, ok := s.queue.Enqueue(doc); ok {
					spareIDs = append(spareIDs, id)
				}
				return
			}
			// The first candidate out of the burst is about to go straight to
			// the client: it must clear the same dedupe/review gate every
			// other document does before that happens, not after.
			final := s.engine.AcceptDraft(r.Context(), doc, req.Brief, directive.Name, directive.Text, s.reviewEnabled())
			if final == nil {
				return
			}
			served = true
			metrics.GenerationsTotal.WithLabelValues("live").Inc()
			s.counter.Increment(1)
			_ = enc.Encode(ndjsonEvent{Event: "page", Data: final})
			if flusher != nil {
				flusher.Flush()
			}
		})
		if err != nil {
			s.logger.Warn("burst stream provider error", zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		if served {
			break
		}
	}

	if !served {
		_ = enc.Encode(ndjsonEvent{Event: "error", Data: map[string]string{"error": "No pages generated"}})
		return
	}
	if len(spareIDs) > 0 && s.scheduler != nil {
		s.scheduler.ScheduleReview(context.Background(), req.Brief, spareIDs)
	}
}

type fillRequest struct {
	Brief string `json:"brief,omitempty"`
	Count int    `json:"count"`
}

func (s *Server) handlePrefetchFill(w http.ResponseWriter, r *http.Request) {
	if !s.anyProviderConfigured() {
		s.respondError(w, http.StatusServiceUnavailable, "no LLM provider configured")
		return
	}

	var req fillRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	count := prefetch.ClampBatch(req.Count)

	added := 0
	var newIDs []string
	for i := 0; i < count; i++ {
		directive := s.rotator.Next("")
		var doc *docmodel.Doc
		for _, p := range s.configuredProviders() {
			d, err := p.GeneratePage(r.Context(), req.Brief, 0, directive.Text)
			if err != nil {
				s.logger.Warn("prefetch fill provider error", zap.String("provider", p.Name()), zap.Error(err))
				continue
			}
			if d != nil {
				doc = d
				break
			}
		}
		if doc == nil {
			break
		}
		doc.Category = directive.Name
		id, ok := s.queue.Enqueue(doc)
		if !ok {
			continue
		}
		added++
		newIDs = append(newIDs, id)
	}

	if len(newIDs) > 0 && s.scheduler != nil {
		s.scheduler.ScheduleReview(context.Background(), req.Brief, newIDs)
	}

	s.respondJSON(w, http.StatusOK, map[string]int{
		"requested":  count,
		"added":      added,
		"queue_size": s.queue.Size(),
	})
}

func (s *Server) handlePrefetchStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"size": s.queue.Size(),
		"dir":  s.queue.Dir(),
	})
}

func (s *Server) handlePrefetchPreviews(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	s.respondJSON(w, http.StatusOK, s.queue.Peek(limit))
}

type takeRequest struct {
	Token string `json:"token"`
}

func (s *Server) handlePrefetchTake(w http.ResponseWriter, r *http.Request) {
	var req takeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		s.respondError(w, http.StatusBadRequest, "token is required")
		return
	}
	doc, ok := s.queue.Take(req.Token)
	if !ok {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

// handleValidate is a passthrough stub: schema validation of incoming `page`
// documents is a separate collaborator out of this gateway's core scope.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"detail": map[string]interface{}{"valid": true},
	})
}

func (s *Server) handleMetricsTotal(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]int64{"total": s.counter.Total()})
}

func (s *Server) handleLLMStatus(w http.ResponseWriter, r *http.Request) {
	statuses := make([]map[string]interface{}, 0, len(s.providers))
	for _, p := range s.providers {
		statuses = append(statuses, map[string]interface{}{
			"name":       p.Name(),
			"configured": p.Configured(),
			"burst":      p.SupportsBurst(),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"providers": statuses})
}

func (s *Server) handleLLMProbe(w http.ResponseWriter, r *http.Request) {
	results := make([]map[string]interface{}, 0, len(s.providers))
	for _, p := range s.providers {
		entry := map[string]interface{}{"name": p.Name(), "configured": p.Configured()}
		if p.Configured() {
			text, err := p.CompletePrompt(r.Context(), "ping", false)
			entry["reachable"] = err == nil && text != ""
		}
		results = append(results, entry)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"probes": results})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
