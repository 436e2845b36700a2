package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/song-tender/config"
	dbpkg "github.com/onnwee/song-tender/db"
)

// HandleConfig serves the dashboard settings document. GET returns the live
// settings as YAML; PUT replaces them atomically and persists the document so
// it survives restarts.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		b, err := h.store.Snapshot().Marshal()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		if _, err := w.Write(b); err != nil {
			slog.Warn("failed to write response", slog.Any("err", err))
		}
	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		s, err := config.ParseSettings(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.store.Swap(s)
		if err := dbpkg.SetKV(r.Context(), h.db, settingsKVKey, string(body)); err != nil {
			// Live settings already swapped; persistence failure is operator-only.
			slog.Warn("settings persist failed", slog.Any("err", err))
		}
		slog.Info("settings updated via dashboard")
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

