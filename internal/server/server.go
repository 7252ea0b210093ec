// Package server hosts the bridges behind a small HTTP relay so browser
// widgets can post feedback without holding tracker credentials.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/feedbackkit/fb/internal/bridge"
	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/normalize"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/webhook"
)

// Config wires the relay.
type Config struct {
	Registry *bridge.Registry
	Logger   logrus.FieldLogger

	// AllowOrigins restricts CORS; empty allows any origin.
	AllowOrigins []string

	// Webhook shapes the payload served by POST /api/webhook/format.
	Webhook       webhook.Options
	WebhookSecret string
}

// Server is the relay's HTTP surface.
type Server struct {
	cfg    Config
	log    logrus.FieldLogger
	parser *normalize.Parser
	engine *gin.Engine
}

// New builds the gin engine and its routes.
func New(cfg Config) *Server {
	if cfg.Registry == nil {
		cfg.Registry = bridge.NewRegistry()
	}
	s := &Server{
		cfg: cfg,
		log: debug.Or(cfg.Logger),
	}
	s.parser = &normalize.Parser{Log: s.log}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors.New(corsConfig(cfg.AllowOrigins)))
	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.POST("/integrations/:bridge", s.handleBridge)
	api.POST("/webhook/format", s.handleWebhookFormat)

	s.engine = r
	return s
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{webhook.SignatureHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	s.log.WithFields(logrus.Fields{"addr": addr, "bridges": s.cfg.Registry.List()}).Info("relay server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "bridges": s.cfg.Registry.List()})
}

func (s *Server) handleBridge(c *gin.Context) {
	name := strings.ToLower(c.Param("bridge"))
	if s.cfg.Registry.Get(name) == nil {
		writeError(c, &bridge.UnknownBridgeError{Name: name, Available: s.cfg.Registry.List()}, nil)
		return
	}

	ps, err := s.parser.Parse(Request(c))
	if err != nil {
		writeError(c, err, nil)
		return
	}

	log := s.log.WithFields(logrus.Fields{"bridge": name, "action": ps.Action})
	res, err := s.cfg.Registry.Dispatch(c.Request.Context(), name, ps)
	if err != nil {
		log.WithError(err).Warn("bridge call failed")
		writeError(c, err, res)
		return
	}
	for _, w := range res.Warnings {
		log.Warn(w)
	}

	status := http.StatusOK
	if res.Action == types.ActionCreate {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "result": res})
}

// handleWebhookFormat returns the flat webhook payload for a submission, or
// a status_changed event for updateStatus, signed when a secret is
// configured. It makes no outbound call.
func (s *Server) handleWebhookFormat(c *gin.Context) {
	ps, err := s.parser.Parse(Request(c))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	var body []byte
	if ps.Action == types.ActionUpdateStatus {
		body, err = webhook.FormatStatusChange(statusChangeRef(ps), ps.Submission.Status, types.Status(ps.TargetStatus))
	} else {
		body, err = webhook.Format(&ps.Submission, s.cfg.Webhook)
	}
	if err != nil {
		writeError(c, err, nil)
		return
	}
	if s.cfg.WebhookSecret != "" {
		c.Header(webhook.SignatureHeader, webhook.Sign(body, []byte(s.cfg.WebhookSecret)))
	}
	c.Data(http.StatusOK, "application/json", body)
}

func statusChangeRef(ps *types.ParsedSubmission) types.ExternalIssueRef {
	ref := types.ExternalIssueRef{LocalID: ps.Submission.ID, ExternalID: ps.IssueKey}
	if ref.ExternalID == "" && ps.RowIndex > 0 {
		ref.ExternalID = strconv.Itoa(ps.RowIndex)
	}
	return ref
}
