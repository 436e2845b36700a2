// Package testutil provides shared mock servers for the Spotify and Twitch
// API surfaces the tests exercise.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockServer is a test server whose handlers are registered per path.
type MockServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockServer creates a path-routed mock API server. Unregistered paths
// return 404.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// JSON writes a JSON response for a path.
func (m *MockServer) JSON(path string, status int, body any) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	}
}

// MockTrackResponse registers a Spotify track lookup.
func (m *MockServer) MockTrackResponse(id, name string, artists []string, durationMS int) {
	as := make([]map[string]string, 0, len(artists))
	for _, a := range artists {
		as = append(as, map[string]string{"name": a})
	}
	m.JSON("/v1/tracks/"+id, http.StatusOK, map[string]any{
		"id":            id,
		"name":          name,
		"artists":       as,
		"duration_ms":   durationMS,
		"external_urls": map[string]string{"spotify": "https://open.spotify.com/track/" + id},
	})
}

// MockSearchResponse registers a Spotify search result with the given track ids.
func (m *MockServer) MockSearchResponse(ids ...string) {
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]any{"id": id, "name": "track " + id})
	}
	m.JSON("/v1/search", http.StatusOK, map[string]any{
		"tracks": map[string]any{"items": items},
	})
}

// MockSpotifyError registers an error body in Spotify's envelope for a path.
func (m *MockServer) MockSpotifyError(path string, status int, message string) {
	m.JSON(path, status, map[string]any{
		"error": map[string]any{"status": status, "message": message},
	})
}

// MockUserResponse registers a Helix user lookup.
func (m *MockServer) MockUserResponse(userID, login string) {
	m.JSON("/helix/users", http.StatusOK, map[string]any{
		"data": []map[string]string{{"id": userID, "login": login}},
	})
}

// MockRedemptionsResponse registers a Helix redemption listing.
func (m *MockServer) MockRedemptionsResponse(redemptions []map[string]any) {
	m.JSON("/helix/channel_points/custom_rewards/redemptions", http.StatusOK, map[string]any{
		"data": redemptions,
	})
}

// MockOAuthTokenResponse registers a token grant response.
func (m *MockServer) MockOAuthTokenResponse(path, accessToken, refreshToken string, expiresIn int) {
	m.JSON(path, http.StatusOK, map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    expiresIn,
		"token_type":    "bearer",
	})
}
