package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"reasoning-trainer/core/enhancer"

	"github.com/ternarybob/arbor"
)

// EnhanceRequest is the body of both enhancement endpoints
type EnhanceRequest struct {
	Prompt          string `json:"prompt"`
	EnhancementType string `json:"enhancement_type"`
	ModelVersion    string `json:"model_version"`
}

// PromptHandler serves prompt enhancement
type PromptHandler struct {
	pipeline *enhancer.Pipeline
	logger   arbor.ILogger
}

// NewPromptHandler creates a new prompt handler
func NewPromptHandler(pipeline *enhancer.Pipeline, logger arbor.ILogger) *PromptHandler {
	return &PromptHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

func decodeEnhanceRequest(w http.ResponseWriter, r *http.Request) (EnhanceRequest, bool) {
	var req EnhanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return req, false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		badRequest(w, "prompt is required")
		return req, false
	}
	if req.EnhancementType == "" {
		req.EnhancementType = enhancer.CategoryReasoning
	}
	return req, true
}

// Enhance handles POST /prompt/enhance
func (h *PromptHandler) Enhance(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEnhanceRequest(w, r)
	if !ok {
		return
	}

	res := h.pipeline.Enhance(r.Context(), req.Prompt, req.EnhancementType, req.ModelVersion)
	if res.Outcome == enhancer.OutcomeError {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": res.Cause,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"original_prompt":  req.Prompt,
		"enhanced_prompt":  res.Text,
		"enhancement_type": enhancer.NormalizeCategory(req.EnhancementType),
		"model_version":    res.Model,
		"outcome":          res.Outcome,
		"cached":           res.Cached,
	})
}

// EnhanceStream handles POST /prompt/enhance/stream as server-sent events.
// A client disconnect cancels the request context, which ends the pipeline.
func (h *PromptHandler) EnhanceStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeEnhanceRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": "streaming unsupported",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range h.pipeline.EnhanceStream(r.Context(), req.Prompt, req.EnhancementType, req.ModelVersion) {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to encode stream event")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			h.logger.Debug().Err(err).Msg("Stream client went away")
			return
		}
		flusher.Flush()
	}
}
