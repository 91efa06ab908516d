// Package roblox implements Roblox OAuth2 login and the Open Cloud
// user-restrictions API, whose game-join restriction is treated as a ban.
package roblox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/csnsor/bs-webpanel-sub000/internal/gateway"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
)

type Config struct {
	AuthBase     string
	APIBase      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	APIKey       string
	UniverseID   string
}

type Client struct {
	cfg  Config
	http *retryablehttp.Client
}

func NewClient(cfg Config, c *retryablehttp.Client) *Client {
	cfg.AuthBase = strings.TrimRight(cfg.AuthBase, "/")
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Client{cfg: cfg, http: c}
}

func (c *Client) Platform() models.Platform { return models.PlatformRoblox }

func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid profile")
	q.Set("state", state)
	return c.cfg.AuthBase + "/v1/authorize?" + q.Encode()
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (platform.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	return c.tokenRequest(ctx, form)
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (platform.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, form)
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (platform.TokenSet, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	var ts platform.TokenSet
	header := http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}}
	if _, err := gateway.Do(ctx, c.http, http.MethodPost, c.cfg.AuthBase+"/v1/token", header, form.Encode(), &ts); err != nil {
		return platform.TokenSet{}, fmt.Errorf("roblox token exchange: %w", err)
	}
	if ts.AccessToken == "" {
		return platform.TokenSet{}, errors.New("roblox token exchange: empty access token")
	}
	return ts, nil
}

type userInfo struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Nickname          string `json:"nickname"`
	Name              string `json:"name"`
}

func (c *Client) Profile(ctx context.Context, accessToken string) (platform.Profile, error) {
	var u userInfo
	header := http.Header{"Authorization": []string{"Bearer " + accessToken}}
	if _, err := gateway.Do(ctx, c.http, http.MethodGet, c.cfg.AuthBase+"/v1/userinfo", header, nil, &u); err != nil {
		return platform.Profile{}, fmt.Errorf("roblox profile: %w", err)
	}
	if u.Sub == "" {
		return platform.Profile{}, errors.New("roblox profile: missing subject")
	}
	name := u.PreferredUsername
	if name == "" {
		name = u.Name
	}
	display := u.Nickname
	if display == "" {
		display = name
	}
	return platform.Profile{ID: u.Sub, Name: name, DisplayName: display}, nil
}

type gameJoinRestriction struct {
	Active             bool   `json:"active"`
	StartTime          string `json:"startTime,omitempty"`
	Duration           string `json:"duration,omitempty"`
	PrivateReason      string `json:"privateReason,omitempty"`
	DisplayReason      string `json:"displayReason,omitempty"`
	ExcludeAltAccounts bool   `json:"excludeAltAccounts,omitempty"`
}

type userRestriction struct {
	Path                string              `json:"path"`
	GameJoinRestriction gameJoinRestriction `json:"gameJoinRestriction"`
}

func (c *Client) restrictionURL(userID string) string {
	return fmt.Sprintf("%s/cloud/v2/universes/%s/user-restrictions/%s", c.cfg.APIBase, c.cfg.UniverseID, userID)
}

func (c *Client) apiHeader() http.Header {
	return http.Header{"x-api-key": []string{c.cfg.APIKey}}
}

// GetBan returns the active game-join restriction, if any.
func (c *Client) GetBan(ctx context.Context, userID string) (*platform.Ban, error) {
	var r userRestriction
	status, err := gateway.Do(ctx, c.http, http.MethodGet, c.restrictionURL(userID), c.apiHeader(), nil, &r)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("roblox get restriction: %w", err)
	}
	if !r.GameJoinRestriction.Active {
		return nil, nil
	}
	reason := r.GameJoinRestriction.DisplayReason
	if reason == "" {
		reason = r.GameJoinRestriction.PrivateReason
	}
	if reason == "" {
		reason = "No reason provided."
	}
	ban := &platform.Ban{Platform: models.PlatformRoblox, UserID: userID, Reason: reason}
	if t, err := time.Parse(time.RFC3339, r.GameJoinRestriction.StartTime); err == nil {
		ban.Since = &t
	}
	return ban, nil
}

// RevokeRestriction clears the game-join restriction.
func (c *Client) RevokeRestriction(ctx context.Context, userID string) (int, error) {
	body := userRestriction{GameJoinRestriction: gameJoinRestriction{Active: false}}
	u := c.restrictionURL(userID) + "?updateMask=gameJoinRestriction"
	status, err := gateway.Do(ctx, c.http, http.MethodPatch, u, c.apiHeader(), body, nil)
	if status == http.StatusNotFound {
		return status, nil
	}
	return status, err
}
