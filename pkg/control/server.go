// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package control serves the local operator API: status, manual send,
// unlink and settings changes.
package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/config"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/engine"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/logger"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/metrics"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/sentry"
)

// Controller is the part of the engine the API drives.
type Controller interface {
	Status(ctx context.Context) (engine.Status, error)
	SendNow(ctx context.Context) engine.Outcome
	Unlink(ctx context.Context, reason string) bool
	SaveSettings(ctx context.Context, patch config.SettingsPatch) (config.Settings, error)
}

type Server struct {
	server     *http.Server
	router     *gin.Engine
	controller Controller
	logger     *zap.SugaredLogger
	addr       string
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(controller Controller, addr string, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		controller: controller,
		addr:       addr,
		logger:     logger.For(logger.ComponentControl),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.loggingMiddleware())

	router.GET("/healthz", s.healthz)
	router.GET("/status", s.status)
	router.POST("/send-now", s.sendNow)
	router.POST("/unlink", s.unlink)
	router.PUT("/settings", s.saveSettings)

	s.router = router
	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Infow("Starting control API", "addr", s.addr)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sentry.ReportIssue(err, sentry.IssueTypeError, s.logger)

		return err
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping control API")

	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.logger.Debugw("Control request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	status, err := s.controller.Status(c.Request.Context())
	if err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentControl, err, s.logger)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})

		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) sendNow(c *gin.Context) {
	outcome := s.controller.SendNow(c.Request.Context())

	c.JSON(http.StatusAccepted, gin.H{"outcome": outcome})
}

type unlinkRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) unlink(c *gin.Context) {
	var req unlinkRequest

	// An empty body is a plain manual unlink.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

			return
		}
	}

	remote := s.controller.Unlink(c.Request.Context(), req.Reason)

	message := "unlinked"
	if !remote {
		message = "unlink_failed"
	}

	c.JSON(http.StatusOK, gin.H{"remoteNotified": remote, "message": message})
}

type settingsResponse struct {
	Endpoint    string `json:"endpoint"`
	IntervalSec int    `json:"intervalSec"`
	HasToken    bool   `json:"hasToken"`
	Pause       bool   `json:"pause"`
}

func (s *Server) saveSettings(c *gin.Context) {
	var patch config.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	settings, err := s.controller.SaveSettings(c.Request.Context(), patch)
	if err != nil {
		metrics.IncErrorCountAndLog(metrics.ComponentControl, err, s.logger)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings could not be saved"})

		return
	}

	c.JSON(http.StatusOK, settingsResponse{
		Endpoint:    settings.Endpoint,
		IntervalSec: settings.IntervalSec,
		HasToken:    settings.Token != "",
		Pause:       settings.Pause,
	})
}
