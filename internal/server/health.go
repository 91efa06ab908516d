package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = 3 * time.Second

// Probes report subsystem health. A nil probe counts as healthy.
type Probes struct {
	Gateway     func(ctx context.Context) error
	Store       func(ctx context.Context) error
	Idempotency func(ctx context.Context) error
	// Heartbeat is the last beat of the maintenance loop.
	Heartbeat  func() time.Time
	StaleAfter time.Duration
}

type healthReport struct {
	OK          bool       `json:"ok"`
	Gateway     bool       `json:"gateway"`
	Store       bool       `json:"store"`
	Idempotency bool       `json:"idempotency"`
	Worker      bool       `json:"worker"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func (p Probes) check(ctx context.Context) healthReport {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	r := healthReport{Worker: true}
	run := func(probe func(context.Context) error, out *bool) func() error {
		return func() error {
			*out = probe == nil || probe(ctx) == nil
			return nil
		}
	}
	var g errgroup.Group
	g.Go(run(p.Gateway, &r.Gateway))
	g.Go(run(p.Store, &r.Store))
	g.Go(run(p.Idempotency, &r.Idempotency))
	_ = g.Wait()

	if p.Heartbeat != nil {
		beat := p.Heartbeat()
		if beat.IsZero() {
			r.Worker = false
		} else {
			r.UpdatedAt = &beat
			r.Worker = p.StaleAfter <= 0 || time.Since(beat) <= p.StaleAfter
		}
	}
	r.OK = r.Gateway && r.Store && r.Idempotency && r.Worker
	return r
}

func (s *Server) health(c *gin.Context) {
	r := s.Probes.check(c.Request.Context())
	status := http.StatusOK
	if !r.OK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, r)
}
