// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Command protov2d-server runs a ProtoV2d listener: it upgrades
// incoming HTTP connections to WebSocket transports, drives each one
// through the server side of the handshake state machine, and hands
// authenticated connections off to a session.Manager.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/protov2d/config"
	"github.com/sage-x-project/protov2d/handshake"
	"github.com/sage-x-project/protov2d/health"
	"github.com/sage-x-project/protov2d/internal/logger"
	"github.com/sage-x-project/protov2d/internal/metrics"
	"github.com/sage-x-project/protov2d/ipresolve"
	"github.com/sage-x-project/protov2d/session"
	"github.com/sage-x-project/protov2d/transport/wstransport"
)

func main() {
	configPath := flag.String("config", "", "path to the server configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load server configuration", logger.Error(err))
	}

	log := logger.GetDefaultLogger()
	if cfg.Logging != nil {
		log.SetLevel(parseLevel(cfg.Logging.Level))
	}

	hsCfg, err := cfg.HandshakeConfig()
	if err != nil {
		log.Fatal("invalid handshake configuration", logger.Error(err))
		os.Exit(1)
	}

	mgr := session.NewManager(cfg.SessionConfig())
	mgr.OnNewSession = func(s *session.Session) {
		log.Info("session established", logger.String("session_id", s.ID()))
		s.OnData = func(payload []byte) {
			log.Debug("message received", logger.String("session_id", s.ID()), logger.Int("bytes", len(payload)))
		}
		s.OnDisconnected = func() {
			log.Info("session transport disconnected", logger.String("session_id", s.ID()))
		}
		s.OnClosed = func(reason string) {
			log.Info("session closed", logger.String("session_id", s.ID()), logger.String("reason", reason))
		}
	}
	mgr.OnDropConnection = func(sessionID string) {
		log.Info("reconnect window elapsed", logger.String("session_id", sessionID))
	}

	trustProxy := ipresolve.TrustProxy{Always: false}
	if cfg.TrustProxy {
		cidrs, err := ipresolve.ParseCIDRs(cfg.TrustedProxyCIDRs)
		if err != nil {
			log.Fatal("invalid trusted_proxy_cidrs", logger.Error(err))
			os.Exit(1)
		}
		trustProxy = ipresolve.TrustProxy{CIDRs: cidrs, Always: len(cidrs) == 0}
	}

	upgrader := wstransport.NewUpgrader(func(r *http.Request) bool { return true })

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		peer := ipresolve.RealIPFromRequest(r, trustProxy)
		t, err := upgrader.Upgrade(w, r)
		if err != nil {
			log.Warn("websocket upgrade failed", logger.Error(err), logger.String("peer", peer))
			return
		}
		traceID := uuid.NewString()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sess, isNew, err := handshake.RunServer(ctx, t, hsCfg, mgr)
			if err != nil {
				log.Warn("handshake failed", logger.Error(err), logger.String("peer", peer), logger.String("trace_id", traceID))
				return
			}
			log.Info("handshake complete",
				logger.String("session_id", sess.ID()),
				logger.Bool("new_session", isNew),
				logger.String("peer", peer),
				logger.Int("version", sess.ProtocolVersion()),
				logger.String("trace_id", traceID),
			)
		}()
	})

	httpSrv := &http.Server{Addr: cfg.Listen, Handler: mux}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		go func() {
			addr := metricsAddr(cfg.Metrics.Port)
			log.Info("metrics server listening", logger.String("addr", addr))
			if err := metrics.StartServer(addr); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", logger.Error(err))
			}
		}()
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		checker := health.NewHealthChecker(5 * time.Second)
		checker.RegisterCheck("session_manager", health.SessionManagerHealthCheck(func() error { return nil }))
		healthMux := http.NewServeMux()
		path := cfg.Health.Path
		if path == "" {
			path = "/healthz"
		}
		healthMux.Handle(path, checker.Handler())
		go func() {
			addr := metricsAddr(cfg.Health.Port)
			log.Info("health server listening", logger.String("addr", addr))
			if err := http.ListenAndServe(addr, healthMux); err != nil && err != http.ErrServerClosed {
				log.Error("health server failed", logger.Error(err))
			}
		}()
	}

	go func() {
		log.Info("protov2d-server listening", logger.String("addr", cfg.Listen))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", logger.Error(err))
		}
	}()

	waitForShutdown(httpSrv, mgr, log)
}

func waitForShutdown(srv *http.Server, mgr *session.Manager, log *logger.StructuredLogger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	mgr.Close()
}

func loadConfig(path string) (*config.ServerConfig, error) {
	if path == "" {
		return config.LoadServer()
	}
	return config.LoadServerConfigFromFile(path)
}

func metricsAddr(port int) string {
	if port == 0 {
		port = 9090
	}
	return ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
