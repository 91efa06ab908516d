// Package server exposes the appeal portal API: login, eligibility, submit,
// status feed, health, metrics and the signed Discord event relay.
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/csnsor/bs-webpanel-sub000/internal/appeal"
	"github.com/csnsor/bs-webpanel-sub000/internal/apperr"
	"github.com/csnsor/bs-webpanel-sub000/internal/crash"
	"github.com/csnsor/bs-webpanel-sub000/internal/identity"
	"github.com/csnsor/bs-webpanel-sub000/internal/logger"
	"github.com/csnsor/bs-webpanel-sub000/internal/metrics"
	"github.com/csnsor/bs-webpanel-sub000/internal/models"
	"github.com/csnsor/bs-webpanel-sub000/internal/msgcache"
	"github.com/csnsor/bs-webpanel-sub000/internal/platform"
	"github.com/csnsor/bs-webpanel-sub000/internal/token"
)

type Options struct {
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy    bool
	SecureCookies bool
	CookieName    string
	RelaySecret   string
	// GuildID filters relayed events to the community guild when set.
	GuildID string
}

type Deps struct {
	Engine    *appeal.Engine
	Status    *appeal.StatusFeed
	States    *token.StateManager
	Signer    *token.Signer
	Linker    *identity.Linker
	Tokens    *identity.TokenStore
	Providers map[models.Platform]platform.IdentityProvider
	Cache     *msgcache.Cache
	Probes    Probes
}

type Server struct {
	opts Options
	Deps
	router *gin.Engine
}

func New(opts Options, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	if opts.CookieName == "" {
		opts.CookieName = "bs_session"
	}

	router := gin.New()
	router.Use(recovery(), requestLogger())
	if opts.TrustProxy {
		router.ForwardedByClientIP = true
		if err := router.SetTrustedProxies([]string{"0.0.0.0/0", "::/0"}); err != nil {
			logger.Warningf("Failed to trust proxies: %v", err)
		}
	} else {
		router.ForwardedByClientIP = false
		_ = router.SetTrustedProxies(nil)
	}

	s := &Server{opts: opts, Deps: deps, router: router}
	s.setupRoutes()
	return s
}

// Handler returns the router for mounting on the public listener.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	auth := s.router.Group("/auth")
	auth.GET("/:platform/login", s.login)
	auth.GET("/:platform/callback", s.callback)
	auth.POST("/logout", s.logout)

	s.router.GET("/appeal/:platform", s.appealForm)
	s.router.POST("/appeal/:platform/submit", s.submit)
	s.router.GET("/status/data", s.statusData)

	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/events/discord", s.discordEvent)
}

// recovery turns a handler panic into a 500 and keeps the listener alive.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := crash.Guard("http "+c.Request.URL.Path, func() error {
			c.Next()
			return nil
		})
		if err != nil {
			metrics.IncErrors()
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "error"})
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.IncRequests()
		logger.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// writeError renders err with the status code of its taxonomy entry.
func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{"error": apperr.Label(err)}

	var rl *apperr.RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		secs := int((rl.RetryAfter + time.Second - 1) / time.Second)
		c.Header("Retry-After", strconv.Itoa(secs))
		body["retry_after"] = secs
	}
	var ie *apperr.IneligibleError
	if errors.As(err, &ie) {
		body["reason"] = ie.Reason
	}

	if status >= http.StatusInternalServerError {
		metrics.IncErrors()
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		body["message"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}

func platformParam(c *gin.Context) (models.Platform, error) {
	p := models.Platform(c.Param("platform"))
	if !p.Valid() {
		return "", apperr.ErrNotFound
	}
	return p, nil
}

// session returns the caller's login, or nil.
func (s *Server) session(c *gin.Context) *token.SessionClaims {
	raw, err := c.Cookie(s.opts.CookieName)
	if err != nil || raw == "" {
		return nil
	}
	claims, err := s.Signer.ParseSession(raw)
	if err != nil {
		logger.Debugf("Ignoring session cookie: %v", err)
		return nil
	}
	return claims
}

func platformID(sess *token.SessionClaims, p models.Platform) string {
	if sess == nil {
		return ""
	}
	if p == models.PlatformRoblox {
		return sess.RobloxID
	}
	return sess.DiscordID
}

func platformName(sess *token.SessionClaims, p models.Platform) string {
	if p == models.PlatformRoblox {
		return sess.RobloxName
	}
	return sess.DiscordName
}
