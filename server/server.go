//    Copyright 2024 netnook
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/netnook/gpio2mqtt/service/mqtt"
)

var maskAny = errors.WithStack

const shutdownTimeout = time.Second * 5

// Server runs the HTTP server exposing metrics and health.
type Server interface {
	// Run the HTTP server until the given context is cancelled.
	Run(ctx context.Context) error
}

type Config struct {
	Host string
	Port int
}

// Health reports liveness information of the bridge.
type Health interface {
	// State returns the current bus session state.
	State() mqtt.ConnState
}

// NewServer creates a new server.
func NewServer(conf Config, health Health, log zerolog.Logger) (Server, error) {
	return &server{
		Config: conf,
		log:    log.With().Str("component", "server").Logger(),
		health: health,
	}, nil
}

type server struct {
	Config
	log    zerolog.Logger
	health Health
}

// Run the HTTP server until the given context is cancelled.
func (s *server) Run(ctx context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", s.handleHealth)

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	s.log.Info().Str("address", addr).Msg("Metrics server listening")

	runErrors := make(chan error, 1)
	go func() {
		runErrors <- e.Start(addr)
	}()

	select {
	case err := <-runErrors:
		return maskAny(err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return maskAny(e.Shutdown(sctx))
	}
}

func (s *server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "up",
		"session": s.health.State().String(),
	})
}
