package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/song-tender/config"
	"github.com/onnwee/song-tender/spotify"
	"github.com/onnwee/song-tender/twitchapi"
)

// settingsKVKey is where the dashboard's settings overrides persist so edits
// survive restarts without touching the on-disk file.
const settingsKVKey = "settings_yaml"

// NowPlayingSource renders the overlay text line (engine.Engine).
type NowPlayingSource interface {
	CurrentlyPlayingText(ctx context.Context) string
}

// TokenSink receives tokens from a completed OAuth flow (auth.Manager).
type TokenSink interface {
	SetTokens(ctx context.Context, access, refresh string, expiry time.Time, scope string) error
}

// Handlers carries the dependencies of all HTTP endpoints.
type Handlers struct {
	env        *config.Env
	store      *config.Store
	db         *sql.DB
	spotifyApp *spotify.Accounts
	twitchApp  *twitchapi.OAuth
	spotifyTok TokenSink
	twitchTok  TokenSink
	nowPlaying NowPlayingSource

	stateMu    sync.RWMutex
	stateStore map[string]time.Time
}

func NewHandlers(env *config.Env, store *config.Store, dbx *sql.DB, spotifyApp *spotify.Accounts, twitchApp *twitchapi.OAuth, spotifyTok, twitchTok TokenSink, nowPlaying NowPlayingSource) *Handlers {
	return &Handlers{
		env:        env,
		store:      store,
		db:         dbx,
		spotifyApp: spotifyApp,
		twitchApp:  twitchApp,
		spotifyTok: spotifyTok,
		twitchTok:  twitchTok,
		nowPlaying: nowPlaying,
		stateStore: make(map[string]time.Time),
	}
}

func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.stateStore[state] = expiry
	// Opportunistic cleanup of expired states.
	now := time.Now()
	for s, exp := range h.stateStore {
		if now.After(exp) {
			delete(h.stateStore, s)
		}
	}
}

func (h *Handlers) takeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}

// HandleHealthz is a liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleReadyz reports readiness: the database must answer a ping.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		http.Error(w, "db not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ready"}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleNowPlaying returns the overlay text for the currently playing track,
// empty body when playback is idle.
func (h *Handlers) HandleNowPlaying(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	text := ""
	if h.nowPlaying != nil {
		text = h.nowPlaying.CurrentlyPlayingText(r.Context())
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Warn("failed to write response", slog.Any("err", err))
	}
}
