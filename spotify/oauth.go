package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAccountsURL = "https://accounts.spotify.com"

// TokenResult is the response from the accounts service token endpoint.
type TokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
}

// Accounts talks to the Spotify accounts service for the OAuth code and
// refresh grants. Client credentials go in a Basic auth header.
type Accounts struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	AccountsURL  string // override for tests
}

func (a *Accounts) http() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *Accounts) base() string {
	if a.AccountsURL != "" {
		return a.AccountsURL
	}
	return defaultAccountsURL
}

func (a *Accounts) basicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.ClientID+":"+a.ClientSecret))
}

func (a *Accounts) token(ctx context.Context, form url.Values) (*TokenResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base()+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", a.basicAuth())
	resp, err := a.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("spotify token request failed: %s: %s", resp.Status, string(b))
	}
	var res TokenResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, errors.New("empty access_token in spotify response")
	}
	return &res, nil
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func (a *Accounts) ExchangeAuthCode(ctx context.Context, code, redirectURI string) (*TokenResult, error) {
	if a.ClientID == "" || a.ClientSecret == "" || code == "" || redirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	return a.token(ctx, form)
}

// RefreshToken exchanges a refresh token for a new access token. Spotify may
// omit the refresh token in the response, in which case the old one stays valid.
func (a *Accounts) RefreshToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	if a.ClientID == "" || a.ClientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return a.token(ctx, form)
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m
// when the provider leaves it out.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
