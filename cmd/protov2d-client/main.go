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

// Command protov2d-client dials a ProtoV2d server, drives the client
// side of the handshake state machine, and keeps the session alive
// across transport loss: a recoverable error (spec.md §7) re-dials
// after reconnectionTime and resumes the same sessionID; a
// non-recoverable error aborts the process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sage-x-project/protov2d/config"
	"github.com/sage-x-project/protov2d/handshake"
	"github.com/sage-x-project/protov2d/internal/logger"
	"github.com/sage-x-project/protov2d/protoerr"
	"github.com/sage-x-project/protov2d/session"
	"github.com/sage-x-project/protov2d/transport/wstransport"
)

func main() {
	configPath := flag.String("config", "", "path to the client configuration file")
	message := flag.String("send", "", "optional QoS-1 payload to send once the session is established")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load client configuration", logger.Error(err))
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

	mgr := session.NewManager(session.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		cancel()
	}()

	sess, err := connectWithRetry(ctx, cfg, hsCfg, mgr, log)
	if err != nil {
		log.Fatal("could not establish session", logger.Error(err))
		os.Exit(1)
	}

	disconnected := make(chan struct{}, 1)
	closedCh := make(chan struct{})

	sess.OnData = func(payload []byte) {
		log.Info("message received", logger.Int("bytes", len(payload)))
	}
	sess.OnDisconnected = func() {
		log.Warn("transport disconnected, will resume on reconnect")
		select {
		case disconnected <- struct{}{}:
		default:
		}
	}
	sess.OnClosed = func(reason string) {
		log.Info("session closed", logger.String("reason", reason))
		close(closedCh)
		cancel()
	}

	if *message != "" {
		go func() {
			if err := sess.SendQoS1(ctx, []byte(*message)); err != nil {
				log.Warn("qos1 send failed", logger.Error(err))
			} else {
				log.Info("qos1 send acknowledged")
			}
		}()
	}

	reconnectLoop(ctx, cfg, hsCfg, mgr, sess, disconnected, closedCh, log)
	mgr.Close()
}

// connectWithRetry dials and completes the handshake, retrying
// recoverable failures up to maxInitialRetries before giving up.
func connectWithRetry(ctx context.Context, cfg *config.ClientConfig, hsCfg handshake.ClientConfig, mgr *session.Manager, log *logger.StructuredLogger) (*session.Session, error) {
	attempts := 0
	for {
		sess, err := dialOnce(ctx, cfg, hsCfg, mgr, log)
		if err == nil {
			return sess, nil
		}
		if protoerr.IsNonRecoverable(err) {
			return nil, err
		}
		attempts++
		if cfg.MaxInitialRetries > 0 && attempts >= cfg.MaxInitialRetries {
			return nil, err
		}
		log.Warn("initial connect failed, retrying", logger.Error(err), logger.Int("attempt", attempts))
		select {
		case <-time.After(cfg.ReconnectionTime):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func dialOnce(ctx context.Context, cfg *config.ClientConfig, hsCfg handshake.ClientConfig, mgr *session.Manager, log *logger.StructuredLogger) (*session.Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	t, err := wstransport.Dial(dialCtx, cfg.ServerURL, 10*time.Second)
	if err != nil {
		return nil, protoerr.Wrap("dial", err)
	}

	out, err := handshake.RunClient(dialCtx, t, hsCfg)
	if err != nil {
		t.Close(true, "handshake failed")
		return nil, err
	}

	sess, isNew := mgr.Establish(ctx, out, t)
	log.Info("session established", logger.String("session_id", sess.ID()), logger.Bool("new_session", isNew))
	return sess, nil
}

// reconnectLoop re-dials whenever the current transport drops,
// resuming the same session via mgr.Establish (spec.md §4.3.4): the
// session object is reused and its transport pointer swapped, which
// re-arms every outstanding QoS-1 payload per spec.md §4.4.2.
func reconnectLoop(ctx context.Context, cfg *config.ClientConfig, hsCfg handshake.ClientConfig, mgr *session.Manager, sess *session.Session, disconnected <-chan struct{}, closedCh <-chan struct{}, log *logger.StructuredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-closedCh:
			return
		case <-disconnected:
		}

		for {
			if sess.Closed() {
				return
			}

			t, err := wstransport.Dial(ctx, cfg.ServerURL, 10*time.Second)
			if err == nil {
				out, hsErr := handshake.RunClient(ctx, t, hsCfg)
				if hsErr == nil {
					mgr.Establish(ctx, out, t)
					log.Info("session resumed", logger.String("session_id", sess.ID()))
					break
				}
				t.Close(true, "handshake failed")
				err = hsErr
			}
			if protoerr.IsNonRecoverable(err) {
				log.Error("resume failed, non-recoverable", logger.Error(err))
				return
			}
			log.Warn("reconnect failed, will retry", logger.Error(err))
			select {
			case <-time.After(cfg.ReconnectionTime):
			case <-ctx.Done():
				return
			}
		}
	}
}

func loadConfig(path string) (*config.ClientConfig, error) {
	if path == "" {
		return config.LoadClient()
	}
	return config.LoadClientConfigFromFile(path)
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
