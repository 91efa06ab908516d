package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/csnsor/bs-webpanel-sub000/internal/appeal"
	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
)

// appealForm reports eligibility and, when eligible, issues a form token.
func (s *Server) appealForm(c *gin.Context) {
	p, err := platformParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	sess := s.session(c)
	userID := platformID(sess, p)
	if userID == "" {
		writeError(c, apperr.ErrInvalidToken)
		return
	}
	form, err := s.Engine.PrepareForm(c.Request.Context(), p, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

type submitRequest struct {
	FormToken string `form:"form_token" json:"form_token" binding:"required"`
	Reason    string `form:"reason" json:"reason"`
	Evidence  string `form:"evidence" json:"evidence"`
}

func (s *Server) submit(c *gin.Context) {
	p, err := platformParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req submitRequest
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, apperr.Invalid("%v", err))
		return
	}

	sess := s.session(c)
	sub := appeal.Submission{
		FormToken:    req.FormToken,
		Reason:       req.Reason,
		Evidence:     req.Evidence,
		AcceptLang:   c.GetHeader("Accept-Language"),
		IP:           c.ClientIP(),
		ForwardedFor: c.GetHeader("X-Forwarded-For"),
		UserAgent:    c.Request.UserAgent(),
		Session:      sess,
	}
	if sess != nil {
		sub.Username = platformName(sess, p)
	}

	a, err := s.Engine.Submit(c.Request.Context(), sub)
	if err != nil {
		writeError(c, err)
		return
	}
	if sess != nil {
		s.Status.Invalidate(sess.DiscordID, sess.RobloxID)
	}

	ac := a.Common()
	c.JSON(http.StatusCreated, gin.H{
		"platform":  a.Platform(),
		"appeal_id": ac.AppealID,
		"status":    ac.Status,
	})
}

// statusData is the caller's appeal history across both platforms.
func (s *Server) statusData(c *gin.Context) {
	sess := s.session(c)
	if sess == nil || (sess.DiscordID == "" && sess.RobloxID == "") {
		writeError(c, apperr.ErrInvalidToken)
		return
	}
	history, err := s.Status.History(c.Request.Context(), sess.DiscordID, sess.RobloxID)
	if err != nil {
		writeError(c, err)
		return
	}
	if history == nil {
		history = []models.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"display_name": sess.DisplayName,
		"discord_id":   sess.DiscordID,
		"roblox_id":    sess.RobloxID,
		"appeals":      history,
	})
}
