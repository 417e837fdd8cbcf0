package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	enginex "github.com/moonsyncai/moonsync/agent/engine"
	streamx "github.com/moonsyncai/moonsync/agent/stream"
)

// headerCity carries the edge-resolved client city. Logged for context;
// the session snapshot location is what the model actually sees.
const headerCity = "x-vercel-ip-city"

// promptPart is one element of a structured prompt array. Only text parts
// contribute to the resolved prompt.
type promptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// inferenceBody is the POST /inference payload. Prompt accepts either a
// plain string or an array of typed parts.
type inferenceBody struct {
	Prompt      json.RawMessage  `json:"prompt"`
	Messages    []contractx.Turn `json:"messages"`
	TerraUserID string           `json:"terra_user_id"`
	SessionID   string           `json:"session_id"`
}

type inferenceHandler struct {
	engine *enginex.Engine
	store  conversationx.Store
}

func newInferenceHandler(engine *enginex.Engine, store conversationx.Store) *inferenceHandler {
	return &inferenceHandler{engine: engine, store: store}
}

func (h *inferenceHandler) handle(c *gin.Context) {
	var body inferenceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	prompt, err := resolvePrompt(body.Prompt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if uid := strings.TrimSpace(body.TerraUserID); uid != "" {
		prompt = prompt + "\nTerra User ID: " + uid
	}

	if city := c.GetHeader(headerCity); city != "" {
		log.Info().Str("city", city).Msg("request location header")
	}

	ctx := c.Request.Context()
	req := contractx.InferenceRequest{
		Prompt:    prompt,
		Messages:  h.loadHistory(c, body),
		UserID:    strings.TrimSpace(body.TerraUserID),
		SessionID: strings.TrimSpace(body.SessionID),
	}

	fragments, transcript, err := h.engine.Infer(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, contractx.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, contractx.ErrRetrievalUnavailable):
			status = http.StatusServiceUnavailable
		case errors.Is(err, contractx.ErrUpstreamTransport):
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	writer, err := newSSEWriter(c.Writer)
	if err != nil {
		fragments.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}
	c.Status(http.StatusOK)

	ferr := streamx.Forward(ctx, fragments, writer)
	if ferr != nil {
		log.Warn().Err(ferr).Str("session_id", req.SessionID).Msg("inference stream terminated with error")
		return
	}

	h.saveHistory(c, req.SessionID, transcript)
}

// loadHistory prefers the transcript persisted under the session over the
// turns supplied inline; a missing session entry falls back to the inline
// turns.
func (h *inferenceHandler) loadHistory(c *gin.Context, body inferenceBody) []contractx.Turn {
	sessionID := strings.TrimSpace(body.SessionID)
	if h.store == nil || sessionID == "" {
		return body.Messages
	}

	turns, err := h.store.Load(c.Request.Context(), sessionID)
	if err != nil {
		if !errors.Is(err, conversationx.ErrTranscriptNotFound) {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("transcript load failed")
		}
		return body.Messages
	}
	return turns
}

func (h *inferenceHandler) saveHistory(c *gin.Context, sessionID string, transcript *conversationx.Transcript) {
	if h.store == nil || sessionID == "" || transcript == nil {
		return
	}
	if err := h.store.Save(c.Request.Context(), sessionID, transcript.Turns()); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("transcript save failed")
	}
}

// resolvePrompt accepts either a JSON string or an array of typed parts and
// flattens it to one prompt string.
func resolvePrompt(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("prompt is required")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("prompt is empty")
		}
		return text, nil
	}

	var parts []promptPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("prompt must be a string or an array of parts")
	}

	var collected []string
	for _, p := range parts {
		if p.Type != "" && p.Type != "text" {
			continue
		}
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		collected = append(collected, p.Text)
	}
	if len(collected) == 0 {
		return "", fmt.Errorf("prompt carries no text parts")
	}
	return strings.Join(collected, "\n"), nil
}
