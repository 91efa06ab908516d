package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/identity"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
	"github.com/csnsor/bs-webpanel-sub000/internal/token"
)

func (s *Server) provider(c *gin.Context) (platform.IdentityProvider, error) {
	p, err := platformParam(c)
	if err != nil {
		return nil, err
	}
	prov, ok := s.Providers[p]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return prov, nil
}

// login starts the authorization-code flow. The optional context and
// counterpart parameters name an appeal in progress on the other platform.
func (s *Server) login(c *gin.Context) {
	prov, err := s.provider(c)
	if err != nil {
		writeError(c, err)
		return
	}
	extra := token.StateContext{
		Context:     c.Query("context"),
		Counterpart: c.Query("counterpart"),
	}
	state, err := s.States.Issue(c.ClientIP(), extra)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorize_url": prov.AuthorizeURL(state)})
}

// callback finishes a login: the state token is consumed, the account is
// linked into the caller's session and a fresh session cookie is issued.
func (s *Server) callback(c *gin.Context) {
	prov, err := s.provider(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if e := c.Query("error"); e != "" {
		writeError(c, apperr.Invalid("authorization failed: %s", e))
		return
	}
	extra, ok := s.States.ValidateAndConsume(c.Query("state"), c.ClientIP())
	if !ok {
		logger.Warningf("Rejected %s login callback from %s: bad state", prov.Platform(), c.ClientIP())
		writeError(c, apperr.ErrInvalidToken)
		return
	}
	code := c.Query("code")
	if code == "" {
		writeError(c, apperr.Invalid("code is required"))
		return
	}

	ctx := c.Request.Context()
	ident, err := s.Linker.Login(ctx, s.session(c), prov, s.Tokens, code)
	if err != nil {
		writeError(c, err)
		return
	}
	claims := identity.Claims(ident)
	if err := s.setSession(c, claims); err != nil {
		writeError(c, err)
		return
	}
	s.Status.Invalidate(ident.DiscordID, ident.RobloxID)

	c.JSON(http.StatusOK, gin.H{
		"internal_id":  ident.CanonicalID,
		"display_name": ident.DisplayName,
		"discord_id":   ident.DiscordID,
		"roblox_id":    ident.RobloxID,
		"next":         s.nextStep(c, &claims, prov.Platform(), extra),
	})
}

// nextStep is the appeal form of the counterpart named by the login state
// when it has an actionable ban, else the form of the platform just linked,
// else the status view.
func (s *Server) nextStep(c *gin.Context, sess *token.SessionClaims, linked models.Platform, extra token.StateContext) string {
	ctx := c.Request.Context()
	if p, err := models.ParsePlatform(extra.Context); err == nil && extra.Counterpart != "" {
		// only a counterpart that is now part of this session
		if platformID(sess, p) == extra.Counterpart {
			if el, err := s.Engine.Evaluate(ctx, p, extra.Counterpart); err == nil && el.Eligible {
				return "/appeal/" + string(p)
			}
			return "/status"
		}
	}
	if el, err := s.Engine.Evaluate(ctx, linked, platformID(sess, linked)); err == nil && el.Eligible {
		return "/appeal/" + string(linked)
	}
	return "/status"
}

func (s *Server) setSession(c *gin.Context, claims token.SessionClaims) error {
	signed, err := s.Signer.SignSession(claims)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.CookieName, signed, int(s.Signer.SessionTTL().Seconds()), "/", "", s.opts.SecureCookies, true)
	return nil
}

func (s *Server) logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.CookieName, "", -1, "/", "", s.opts.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
