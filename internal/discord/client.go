// Package discord talks to the Discord REST API: OAuth2 login, guild bans,
// guild membership and direct messages.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/csnsor/bs-webpanel-sub000/internal/gateway"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
)

const authorizeBase = "https://discord.com/oauth2/authorize"

type Config struct {
	APIBase       string
	BotToken      string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	TargetGuildID string
}

// Client implements platform.BanGateway, platform.GuildGateway and
// platform.IdentityProvider.
type Client struct {
	cfg   Config
	http  *retryablehttp.Client
	oauth *retryablehttp.Client
}

// NewClient uses api for bot calls, which honours rate limits, and oauth
// for token exchange, which must not repeat.
func NewClient(cfg Config, api, oauth *retryablehttp.Client) *Client {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Client{cfg: cfg, http: api, oauth: oauth}
}

func (c *Client) Platform() models.Platform { return models.PlatformDiscord }

func (c *Client) botHeader() http.Header {
	return http.Header{"Authorization": []string{"Bot " + c.cfg.BotToken}}
}

func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "identify guilds.join")
	q.Set("state", state)
	q.Set("prompt", "none")
	return authorizeBase + "?" + q.Encode()
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
	if _, err := gateway.Do(ctx, c.oauth, http.MethodPost, c.cfg.APIBase+"/oauth2/token", header, form.Encode(), &ts); err != nil {
		return platform.TokenSet{}, fmt.Errorf("discord token exchange: %w", err)
	}
	if ts.AccessToken == "" {
		return platform.TokenSet{}, errors.New("discord token exchange: empty access token")
	}
	return ts, nil
}

type user struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

func (c *Client) Profile(ctx context.Context, accessToken string) (platform.Profile, error) {
	var u user
	header := http.Header{"Authorization": []string{"Bearer " + accessToken}}
	if _, err := gateway.Do(ctx, c.oauth, http.MethodGet, c.cfg.APIBase+"/users/@me", header, nil, &u); err != nil {
		return platform.Profile{}, fmt.Errorf("discord profile: %w", err)
	}
	display := u.GlobalName
	if display == "" {
		display = u.Username
	}
	return platform.Profile{ID: u.ID, Name: u.Username, DisplayName: display}, nil
}

type banObject struct {
	Reason string `json:"reason"`
	User   user   `json:"user"`
}

// GetBan looks the user up in the target guild's ban list.
func (c *Client) GetBan(ctx context.Context, userID string) (*platform.Ban, error) {
	var b banObject
	path := fmt.Sprintf("%s/guilds/%s/bans/%s", c.cfg.APIBase, c.cfg.TargetGuildID, userID)
	status, err := gateway.Do(ctx, c.http, http.MethodGet, path, c.botHeader(), nil, &b)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discord get ban: %w", err)
	}
	reason := b.Reason
	if reason == "" {
		reason = "No reason provided."
	}
	return &platform.Ban{Platform: models.PlatformDiscord, UserID: userID, Reason: reason}, nil
}

func (c *Client) RevokeRestriction(ctx context.Context, userID string) (int, error) {
	path := fmt.Sprintf("%s/guilds/%s/bans/%s", c.cfg.APIBase, c.cfg.TargetGuildID, userID)
	return removal(gateway.Do(ctx, c.http, http.MethodDelete, path, c.botHeader(), nil, nil))
}

func (c *Client) RemoveMember(ctx context.Context, guildID, userID string) (int, error) {
	path := fmt.Sprintf("%s/guilds/%s/members/%s", c.cfg.APIBase, guildID, userID)
	return removal(gateway.Do(ctx, c.http, http.MethodDelete, path, c.botHeader(), nil, nil))
}

// AddMember joins the user to guildID with their OAuth token. 201 means
// added, 204 means already a member.
func (c *Client) AddMember(ctx context.Context, guildID, userID, accessToken string) (int, error) {
	path := fmt.Sprintf("%s/guilds/%s/members/%s", c.cfg.APIBase, guildID, userID)
	return gateway.Do(ctx, c.http, http.MethodPut, path, c.botHeader(), map[string]string{"access_token": accessToken}, nil)
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color,omitempty"`
}

// SendDirectMessage opens a DM channel and posts an embed. Discord answers
// 403 when the user shares no guild with the bot or blocks DMs.
func (c *Client) SendDirectMessage(ctx context.Context, userID string, msg platform.DirectMessage) (int, error) {
	var channel struct {
		ID string `json:"id"`
	}
	status, err := gateway.Do(ctx, c.http, http.MethodPost, c.cfg.APIBase+"/users/@me/channels", c.botHeader(),
		map[string]string{"recipient_id": userID}, &channel)
	if err != nil {
		return status, fmt.Errorf("discord open dm: %w", err)
	}
	payload := map[string]interface{}{
		"embeds": []embed{{Title: msg.Title, Description: msg.Body, Color: msg.Color}},
	}
	status, err = gateway.Do(ctx, c.http, http.MethodPost, fmt.Sprintf("%s/channels/%s/messages", c.cfg.APIBase, channel.ID), c.botHeader(), payload, nil)
	if err != nil {
		return status, fmt.Errorf("discord send dm: %w", err)
	}
	return status, nil
}

// removal maps 404 to success for idempotent deletes.
func removal(status int, err error) (int, error) {
	if status == http.StatusNotFound {
		return status, nil
	}
	return status, err
}

// Ping checks that the bot token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := gateway.Do(ctx, c.http, http.MethodGet, c.cfg.APIBase+"/users/@me", c.botHeader(), nil, nil)
	return err
}
