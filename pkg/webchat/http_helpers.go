package webchat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/healthchat/pkg/metrics"
	"github.com/go-go-golems/healthchat/pkg/session"
	"github.com/go-go-golems/healthchat/pkg/transcript"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ConvID string `json:"conv_id,omitempty"`
	Prompt string `json:"prompt"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	ConvID string `json:"conv_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// TranscriptResponse is returned by GET /api/conversations/{id}/transcript.
type TranscriptResponse struct {
	ConvID string            `json:"conv_id"`
	State  string            `json:"state"`
	Turns  []transcript.Turn `json:"turns"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("response write failed")
	}
}

func (r *Router) handleChat(w http.ResponseWriter, req *http.Request) {
	var body ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20)).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	convID := strings.TrimSpace(body.ConvID)
	if convID == "" {
		convID = uuid.NewString()
	}
	if strings.TrimSpace(body.Prompt) == "" {
		metrics.ChatRequests.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, ChatResponse{ConvID: convID, Status: "ignored"})
		return
	}

	conv, err := r.cm.GetOrCreate(convID)
	if err != nil {
		log.Error().Err(err).Str("component", "webchat").Str("conv_id", convID).Msg("create conversation failed")
		http.Error(w, "failed to create conversation", http.StatusInternalServerError)
		return
	}
	conv.touch()

	// the generation outlives this request
	err = conv.Sess.Controller.Submit(r.baseCtx, body.Prompt)
	switch {
	case errors.Is(err, session.ErrBusy):
		metrics.ChatRequests.WithLabelValues("busy").Inc()
		writeJSON(w, http.StatusConflict, ChatResponse{ConvID: convID, Status: "busy", Error: err.Error()})
	case err != nil:
		metrics.ChatRequests.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("component", "webchat").Str("conv_id", convID).Msg("submit failed")
		http.Error(w, "submit failed", http.StatusInternalServerError)
	default:
		metrics.ChatRequests.WithLabelValues("started").Inc()
		writeJSON(w, http.StatusAccepted, ChatResponse{ConvID: convID, Status: "started"})
	}
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	convID := strings.TrimSpace(req.URL.Query().Get("conv_id"))
	if convID == "" {
		http.Error(w, "missing conv_id", http.StatusBadRequest)
		return
	}
	conv, err := r.cm.GetOrCreate(convID)
	if err != nil {
		log.Error().Err(err).Str("component", "webchat").Str("conv_id", convID).Msg("create conversation failed")
		http.Error(w, "failed to join conversation", http.StatusInternalServerError)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	if err := r.cm.ensureStreaming(conv); err != nil {
		log.Error().Err(err).Str("component", "webchat").Str("conv_id", convID).Msg("restart stream reader failed")
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"failed to attach websocket"}`))
		_ = conn.Close()
		return
	}
	conv.attach(conn)
	log.Debug().Str("component", "webchat").Str("conv_id", convID).Int("sockets", conv.pool.Count()).Msg("websocket attached")

	// Reads only detect disconnects; input arrives over POST /chat.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		conv.touch()
	}
	conv.pool.Remove(conn)
	log.Debug().Str("component", "webchat").Str("conv_id", convID).Msg("websocket detached")
}

func (r *Router) handleTranscript(w http.ResponseWriter, req *http.Request) {
	conv, ok := r.cm.GetConversation(req.PathValue("id"))
	if !ok {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{
		ConvID: conv.ID,
		State:  conv.Sess.Controller.State().String(),
		Turns:  conv.Sess.Turns(),
	})
}

func (r *Router) handleCancel(w http.ResponseWriter, req *http.Request) {
	conv, ok := r.cm.GetConversation(req.PathValue("id"))
	if !ok {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}
	cancelled := conv.Sess.Controller.Cancel()
	writeJSON(w, http.StatusOK, map[string]any{"conv_id": conv.ID, "cancelled": cancelled})
}
