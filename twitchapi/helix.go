// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs for broadcaster id resolution and channel point reward management,
// using the broadcaster's user token.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultHelixURL = "https://api.twitch.tv"

// Redemption status values the settlement layer writes.
const (
	StatusUnfulfilled = "UNFULFILLED"
	StatusFulfilled   = "FULFILLED"
	StatusCanceled    = "CANCELED"
)

// TokenSource supplies the current user access token for Helix calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Reward is a channel point custom reward owned by this client id.
type Reward struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Cost  int    `json:"cost"`
}

// Redemption is a channel point redemption record.
type Redemption struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	RedeemedAt time.Time `json:"redeemed_at"`
	UserLogin  string    `json:"user_login"`
}

// HelixClient provides the reward and redemption methods needed for
// settlement plus broadcaster id lookup.
type HelixClient struct {
	ClientID    string
	TokenSource TokenSource
	HTTPClient  *http.Client
	HelixURL    string // override for tests
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.HelixURL != "" {
		return hc.HelixURL
	}
	return defaultHelixURL
}

func (hc *HelixClient) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out any) error {
	tok, err := hc.TokenSource.Token(ctx)
	if err != nil {
		return fmt.Errorf("helix token: %w", err)
	}
	u := hc.base() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
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
		return fmt.Errorf("helix %s %s failed: %s: %s", method, path, resp.Status, string(b))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetBroadcasterID resolves a login name to its user ID.
func (hc *HelixClient) GetBroadcasterID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/helix/users", q, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// ListRewards lists the custom rewards manageable by this client id.
func (hc *HelixClient) ListRewards(ctx context.Context, broadcasterID string) ([]Reward, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("only_manageable_rewards", "true")
	var body struct {
		Data []Reward `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/helix/channel_points/custom_rewards", q, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// CreateReward creates a user-input custom reward and returns its id.
func (hc *HelixClient) CreateReward(ctx context.Context, broadcasterID, title string, cost int) (string, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	payload, err := json.Marshal(map[string]any{
		"title":                  title,
		"cost":                   cost,
		"is_user_input_required": true,
	})
	if err != nil {
		return "", err
	}
	var body struct {
		Data []Reward `json:"data"`
	}
	if err := hc.do(ctx, http.MethodPost, "/helix/channel_points/custom_rewards", q, bytes.NewReader(payload), &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("create reward returned no data")
	}
	return body.Data[0].ID, nil
}

// LatestUnfulfilledRedemption returns the newest UNFULFILLED redemption for a
// reward, nil when the queue is empty.
func (hc *HelixClient) LatestUnfulfilledRedemption(ctx context.Context, broadcasterID, rewardID string) (*Redemption, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("reward_id", rewardID)
	q.Set("status", StatusUnfulfilled)
	q.Set("sort", "NEWEST")
	q.Set("first", strconv.Itoa(1))
	var body struct {
		Data []Redemption `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/helix/channel_points/custom_rewards/redemptions", q, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// SetRedemptionStatus writes a terminal status (FULFILLED or CANCELED).
func (hc *HelixClient) SetRedemptionStatus(ctx context.Context, broadcasterID, rewardID, redemptionID, status string) error {
	q := url.Values{}
	q.Set("id", redemptionID)
	q.Set("broadcaster_id", broadcasterID)
	q.Set("reward_id", rewardID)
	payload, err := json.Marshal(map[string]string{"status": status})
	if err != nil {
		return err
	}
	return hc.do(ctx, http.MethodPatch, "/helix/channel_points/custom_rewards/redemptions", q, bytes.NewReader(payload), nil)
}

// EnsureReward reuses an existing manageable reward or creates one from the
// configured name and cost. Returns the reward id to watch for redemptions.
func (hc *HelixClient) EnsureReward(ctx context.Context, broadcasterID, title string, cost int) (string, error) {
	rewards, err := hc.ListRewards(ctx, broadcasterID)
	if err != nil {
		return "", err
	}
	if len(rewards) > 0 {
		return rewards[0].ID, nil
	}
	return hc.CreateReward(ctx, broadcasterID, title, cost)
}
