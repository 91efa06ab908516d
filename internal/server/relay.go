package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/metrics"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

const (
	signatureHeader = "X-Relay-Signature"
	maxRelayBody    = 1 << 20
)

const (
	eventMessageCreate  = "message_create"
	eventGuildBanAdd    = "guild_ban_add"
	eventGuildBanRemove = "guild_ban_remove"
)

// relayEvent is a Discord gateway event forwarded by the bot relay.
type relayEvent struct {
	Type    string        `json:"type"`
	GuildID string        `json:"guild_id"`
	UserID  string        `json:"user_id"`
	At      time.Time     `json:"at"`
	Message *relayMessage `json:"message,omitempty"`
}

type relayMessage struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	if secret == "" || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// discordEvent verifies the relay signature before touching any state.
func (s *Server) discordEvent(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRelayBody))
	if err != nil {
		writeError(c, apperr.Invalid("read body: %v", err))
		return
	}
	if !validSignature(s.opts.RelaySecret, body, c.GetHeader(signatureHeader)) {
		logger.Warningf("Rejected relay event from %s: bad signature", c.ClientIP())
		writeError(c, apperr.ErrInvalidToken)
		return
	}

	var ev relayEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(c, apperr.Invalid("decode event: %v", err))
		return
	}
	if ev.UserID == "" {
		writeError(c, apperr.Invalid("user_id is required"))
		return
	}
	if s.opts.GuildID != "" && ev.GuildID != s.opts.GuildID {
		c.JSON(http.StatusAccepted, gin.H{"ignored": true})
		return
	}
	metrics.RelayEvents.WithLabelValues(ev.Type).Inc()

	ctx := c.Request.Context()
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	switch ev.Type {
	case eventMessageCreate:
		if ev.Message == nil {
			writeError(c, apperr.Invalid("message is required"))
			return
		}
		ts := ev.Message.Timestamp
		if ts.IsZero() {
			ts = at
		}
		s.Cache.Record(ctx, ev.UserID, ev.GuildID, models.ContextEntry{
			Content:     ev.Message.Content,
			ChannelID:   ev.Message.ChannelID,
			ChannelName: ev.Message.ChannelName,
			Timestamp:   ts,
			MessageID:   ev.Message.ID,
		})
	case eventGuildBanAdd:
		if err := s.Engine.ObserveBan(ctx, models.PlatformDiscord, ev.UserID, at); err != nil {
			writeError(c, err)
			return
		}
		snap := s.Cache.Snapshot(ctx, ev.UserID, ev.GuildID, at)
		logger.Infof("Ban of %s observed, %d messages kept as context", ev.UserID, len(snap))
	case eventGuildBanRemove:
		if err := s.Engine.ClearBan(ctx, models.PlatformDiscord, ev.UserID); err != nil {
			writeError(c, err)
			return
		}
		s.Status.Invalidate(ev.UserID, "")
	default:
		logger.Debugf("Ignoring relay event %q", ev.Type)
		c.JSON(http.StatusAccepted, gin.H{"ignored": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
