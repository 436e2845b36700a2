// Package spotify contains a minimal client for the Spotify Web API surface
// the song request engine needs: track search and lookup, the playback queue,
// skipping, volume, and the currently-playing readout.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

const defaultAPIURL = "https://api.spotify.com"

// Track is the immutable track reference the engine passes around.
type Track struct {
	ID              string
	Name            string
	Artists         []string
	DurationSeconds int
	ShareURL        string
}

// URI returns the track in Spotify's native URI form, as the queue endpoint
// expects it.
func (t Track) URI() string { return "spotify:track:" + t.ID }

// Client calls the Spotify Web API. Every method takes the bearer credential
// for the call; token lifecycle lives elsewhere.
type Client struct {
	HTTPClient *http.Client
	APIURL     string // override for tests; defaults to the public API
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.APIURL != "" {
		return c.APIURL
	}
	return defaultAPIURL
}

// trackJSON is the wire shape shared by search, lookup, player, and queue.
type trackJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	DurationMS   int `json:"duration_ms"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

func (tj trackJSON) track() Track {
	t := Track{
		ID:              tj.ID,
		Name:            tj.Name,
		DurationSeconds: tj.DurationMS / 1000,
		ShareURL:        tj.ExternalURLs.Spotify,
	}
	for _, a := range tj.Artists {
		t.Artists = append(t.Artists, a.Name)
	}
	return t
}

// do runs an authorized request and decodes the response into out (when out
// is non-nil). Non-2xx statuses come back as *APIError.
func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, out any) error {
	u := c.base() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(b, &body)
		msg := body.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode spotify response: %w", err)
	}
	return nil
}

// SearchTrack returns the first track matching the query, nil when the search
// comes back empty.
func (c *Client) SearchTrack(ctx context.Context, token, query string) (*Track, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", "1")
	var body struct {
		Tracks struct {
			Items []trackJSON `json:"items"`
		} `json:"tracks"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/v1/search", q, &body); err != nil {
		return nil, err
	}
	if len(body.Tracks.Items) == 0 {
		return nil, nil
	}
	t := body.Tracks.Items[0].track()
	return &t, nil
}

// GetTrack fetches full metadata for a track id.
func (c *Client) GetTrack(ctx context.Context, token, id string) (*Track, error) {
	var body trackJSON
	if err := c.do(ctx, token, http.MethodGet, "/v1/tracks/"+url.PathEscape(id), nil, &body); err != nil {
		return nil, err
	}
	t := body.track()
	return &t, nil
}

// Enqueue adds a track URI to the active playback queue.
func (c *Client) Enqueue(ctx context.Context, token, uri string) error {
	q := url.Values{}
	q.Set("uri", uri)
	return c.do(ctx, token, http.MethodPost, "/v1/me/player/queue", q, nil)
}

// SkipToNext advances playback past the current track.
func (c *Client) SkipToNext(ctx context.Context, token string) error {
	return c.do(ctx, token, http.MethodPost, "/v1/me/player/next", nil, nil)
}

// GetVolume reports the active device's volume percent.
func (c *Client) GetVolume(ctx context.Context, token string) (int, error) {
	var body struct {
		Device struct {
			VolumePercent int `json:"volume_percent"`
		} `json:"device"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/v1/me/player", nil, &body); err != nil {
		return 0, err
	}
	return body.Device.VolumePercent, nil
}

// SetVolume sets the active device's volume percent.
func (c *Client) SetVolume(ctx context.Context, token string, percent int) error {
	q := url.Values{}
	q.Set("volume_percent", strconv.Itoa(percent))
	return c.do(ctx, token, http.MethodPut, "/v1/me/player/volume", q, nil)
}

// CurrentlyPlaying returns the current track, nil when nothing is playing.
func (c *Client) CurrentlyPlaying(ctx context.Context, token string) (*Track, error) {
	var body struct {
		Item *trackJSON `json:"item"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/v1/me/player/currently-playing", nil, &body); err != nil {
		return nil, err
	}
	if body.Item == nil {
		return nil, nil
	}
	t := body.Item.track()
	return &t, nil
}

// Queue returns upcoming tracks in playback order.
func (c *Client) Queue(ctx context.Context, token string) ([]Track, error) {
	var body struct {
		Queue []trackJSON `json:"queue"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/v1/me/player/queue", nil, &body); err != nil {
		return nil, err
	}
	out := make([]Track, 0, len(body.Queue))
	for _, tj := range body.Queue {
		out = append(out, tj.track())
	}
	return out, nil
}
