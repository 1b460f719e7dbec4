package webchat

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	chatstore "github.com/go-go-golems/healthchat/pkg/persistence/chatstore"
)

func (r *Router) registerDebugAPIHandlers(mux *http.ServeMux) {
	logger := log.With().Str("component", "webchat").Logger()

	mux.HandleFunc("GET /api/debug/conversations", func(w http.ResponseWriter, _ *http.Request) {
		type convSummary struct {
			ConvID         string `json:"conv_id"`
			State          string `json:"state"`
			Turns          int    `json:"turns"`
			ActiveSockets  int    `json:"active_sockets"`
			StreamRunning  bool   `json:"stream_running"`
			Generating     bool   `json:"generating"`
			CreatedAtMs    int64  `json:"created_at_ms"`
			LastActivityMs int64  `json:"last_activity_ms"`
		}

		convs := r.cm.list()
		items := make([]convSummary, 0, len(convs))
		for _, conv := range convs {
			if conv == nil || conv.Sess == nil {
				continue
			}
			conv.mu.Lock()
			lastActivityMs := int64(0)
			if !conv.lastActivity.IsZero() {
				lastActivityMs = conv.lastActivity.UnixMilli()
			}
			createdAtMs := conv.createdAt.UnixMilli()
			conv.mu.Unlock()

			items = append(items, convSummary{
				ConvID:         conv.ID,
				State:          conv.Sess.Controller.State().String(),
				Turns:          conv.Sess.Store.Len(),
				ActiveSockets:  conv.pool.Count(),
				StreamRunning:  conv.stream.IsRunning(),
				Generating:     conv.Sess.Controller.IsRunning(),
				CreatedAtMs:    createdAtMs,
				LastActivityMs: lastActivityMs,
			})
		}
		sort.Slice(items, func(i, j int) bool {
			return items[i].LastActivityMs > items[j].LastActivityMs
		})
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})

	mux.HandleFunc("GET /api/debug/turns", func(w http.ResponseWriter, req *http.Request) {
		if r.turnStore == nil {
			http.Error(w, "turn store not enabled", http.StatusNotFound)
			return
		}
		q := req.URL.Query()
		query := chatstore.TurnQuery{
			ConvID: strings.TrimSpace(q.Get("conv_id")),
			Role:   strings.TrimSpace(q.Get("role")),
		}
		if s := strings.TrimSpace(q.Get("limit")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			query.Limit = v
		}
		if s := strings.TrimSpace(q.Get("since_ms")); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				http.Error(w, "invalid since_ms", http.StatusBadRequest)
				return
			}
			query.SinceMs = v
		}

		items, err := r.turnStore.List(req.Context(), query)
		if err != nil {
			logger.Error().Err(err).Str("conv_id", query.ConvID).Msg("turn log query failed")
			http.Error(w, "turn log query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
}
