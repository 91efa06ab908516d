// Package platform declares the narrow interfaces through which the appeal
// core reaches external systems: ban platforms, identity providers and the
// moderator review channel.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

// Ban is an active restriction as reported by the platform. Since is the
// platform's own start time when it reports one.
type Ban struct {
	Platform models.Platform
	UserID   string
	Reason   string
	Since    *time.Time
}

// BanGateway reads and lifts platform restrictions.
type BanGateway interface {
	// GetBan returns nil when the user has no active ban.
	GetBan(ctx context.Context, userID string) (*Ban, error)
	// RevokeRestriction lifts the ban; 404 counts as success.
	RevokeRestriction(ctx context.Context, userID string) (int, error)
}

// DirectMessage is a notification sent to an appellant.
type DirectMessage struct {
	Title string
	Body  string
	Color int
}

// GuildGateway manages community membership and direct notifications.
type GuildGateway interface {
	RemoveMember(ctx context.Context, guildID, userID string) (int, error)
	AddMember(ctx context.Context, guildID, userID, accessToken string) (int, error)
	SendDirectMessage(ctx context.Context, userID string, msg DirectMessage) (int, error)
}

// Profile is the identity returned by a provider.
type Profile struct {
	ID          string
	Name        string
	DisplayName string
}

// TokenSet is the result of an authorization-code exchange or refresh.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// IdentityProvider runs the OAuth2 authorization-code flow for a platform.
type IdentityProvider interface {
	Platform() models.Platform
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
	Profile(ctx context.Context, accessToken string) (Profile, error)
}

// Action is a moderator decision.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

func (a Action) Valid() bool { return a == ActionAccept || a == ActionDecline }

// DecisionTarget identifies the appeal a decision applies to. It is fixed
// when the review message is created and never looked up again.
type DecisionTarget struct {
	Platform models.Platform
	AppealID string
	UserID   string
}

// EncodeCallback renders action and target as compact callback data,
// "<action>:<platform code>:<appeal id>:<user id>".
func EncodeCallback(a Action, t DecisionTarget) string {
	return fmt.Sprintf("%s:%s:%s:%s", a, t.Platform.Code(), t.AppealID, t.UserID)
}

// DecodeCallback parses data produced by EncodeCallback.
func DecodeCallback(data string) (Action, DecisionTarget, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 4 {
		return "", DecisionTarget{}, fmt.Errorf("invalid callback data: %s", data)
	}
	action := Action(parts[0])
	if !action.Valid() {
		return "", DecisionTarget{}, fmt.Errorf("invalid action: %s", parts[0])
	}
	p, err := models.ParsePlatform(parts[1])
	if err != nil {
		return "", DecisionTarget{}, err
	}
	if parts[2] == "" || parts[3] == "" {
		return "", DecisionTarget{}, fmt.Errorf("invalid callback data: %s", data)
	}
	return action, DecisionTarget{Platform: p, AppealID: parts[2], UserID: parts[3]}, nil
}

// MessageRef locates a review message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// ReviewChannel is where moderators see appeals and act on them.
type ReviewChannel interface {
	SendAppeal(ctx context.Context, a models.Appeal) (MessageRef, error)
	// EditMessage rewrites a review message; when actions is non-nil the
	// accept/decline buttons for that target are attached again.
	EditMessage(ctx context.Context, ref MessageRef, text string, actions *DecisionTarget) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	PostAudit(ctx context.Context, text string) error
}

// IsRemovalSuccess treats 2xx and 404 as done for idempotent removals.
func IsRemovalSuccess(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusNotFound
}
