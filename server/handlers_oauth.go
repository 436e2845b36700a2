package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/song-tender/auth"
	"github.com/onnwee/song-tender/spotify"
	"github.com/onnwee/song-tender/twitchapi"
)

// spotifyScopes are the grants the playback surface needs: queueing, skipping,
// volume, and reading the player state.
const spotifyScopes = "user-modify-playback-state user-read-playback-state user-read-currently-playing"

// twitchScopes covers redemption settlement on the broadcaster's channel.
const twitchScopes = auth.RedemptionScope

func newOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HandleSpotifyOAuthStart initiates the Spotify OAuth flow by redirecting to
// the accounts service.
func (h *Handlers) HandleSpotifyOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.env.SpotifyClientID == "" || h.env.SpotifyRedirectURI == "" {
		http.Error(w, "oauth not configured (need SPOTIFY_CLIENT_ID + SPOTIFY_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	st, err := newOAuthState()
	if err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	oc := &oauth2.Config{
		ClientID:    h.env.SpotifyClientID,
		RedirectURL: h.env.SpotifyRedirectURI,
		Scopes:      strings.Fields(spotifyScopes),
		Endpoint:    oauth2.Endpoint{AuthURL: "https://accounts.spotify.com/authorize"},
	}
	http.Redirect(w, r, oc.AuthCodeURL(st), http.StatusFound)
}

// HandleSpotifyOAuthCallback handles the OAuth callback from Spotify and
// stores tokens through the token manager.
func (h *Handlers) HandleSpotifyOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", 400)
		return
	}
	ctx := r.Context()
	res, err := h.spotifyApp.ExchangeAuthCode(ctx, code, h.env.SpotifyRedirectURI)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := h.spotifyTok.SetTokens(ctx, res.AccessToken, res.RefreshToken, spotify.ComputeExpiry(res.ExpiresIn), res.Scope); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	slog.Info("spotify authorization completed", slog.String("scope", res.Scope))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "scope": res.Scope, "expires_in": res.ExpiresIn}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// HandleTwitchOAuthStart initiates the Twitch OAuth flow by redirecting to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.env.TwitchClientID == "" || h.env.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	st, err := newOAuthState()
	if err != nil {
		http.Error(w, "state gen error", 500)
		return
	}
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	authURL, err := twitchapi.BuildAuthorizeURL(h.env.TwitchClientID, h.env.TwitchRedirectURI, twitchScopes, st)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback handles the OAuth callback from Twitch and stores tokens.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", 400)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", 400)
		return
	}
	ctx := r.Context()
	res, err := h.twitchApp.ExchangeAuthCode(ctx, code, h.env.TwitchRedirectURI)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if err := h.twitchTok.SetTokens(ctx, res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " ")); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	slog.Info("twitch authorization completed", slog.Any("scopes", res.Scope))
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "scopes": res.Scope, "expires_in": res.ExpiresIn}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
