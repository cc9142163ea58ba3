// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianPlanner/services/planner/observability"
)

// Stream serves the emitter's events to websocket clients as JSON text
// frames, one Event per frame.
//
// Clients may narrow the feed with query parameters:
//
//	?types=task.created,task.moved   only these event types
//	?project_id=<id>                 only events scoped to this project
//
// A client whose send buffer fills up is disconnected rather than allowed
// to slow down publishers.
type Stream struct {
	emitter      *Emitter
	logger       *slog.Logger
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
	sendBuffer   int
	pingInterval time.Duration
	writeWait    time.Duration
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithStreamLogger sets the connection logger.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(s *Stream) {
		s.logger = logger
	}
}

// WithStreamMetrics tracks connected clients.
func WithStreamMetrics(m *observability.Metrics) StreamOption {
	return func(s *Stream) {
		s.metrics = m
	}
}

// WithSendBuffer sets how many events may queue per client. Default: 64.
func WithSendBuffer(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithPingInterval sets the keepalive period. Default: 30s.
func WithPingInterval(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithWriteWait bounds each frame write. Default: 10s.
func WithWriteWait(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.writeWait = d
		}
	}
}

// WithCheckOrigin overrides the upgrader's origin check. By default every
// origin is accepted.
func WithCheckOrigin(fn func(r *http.Request) bool) StreamOption {
	return func(s *Stream) {
		s.upgrader.CheckOrigin = fn
	}
}

// NewStream returns a Stream over emitter.
func NewStream(emitter *Emitter, opts ...StreamOption) *Stream {
	s := &Stream{
		emitter: emitter,
		logger:  slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
		},
		sendBuffer:   64,
		pingInterval: 30 * time.Second,
		writeWait:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the gin handler for GET /v1/events/ws.
func (s *Stream) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		defer ws.Close()

		s.metrics.WebsocketConnected()
		defer s.metrics.WebsocketDisconnected()

		types := parseTypes(c.Query("types"))
		projectID := c.Query("project_id")
		var filter Filter
		if projectID != "" {
			filter = func(ev *Event) bool { return ev.ProjectID == projectID }
		}

		send := make(chan Event, s.sendBuffer)
		done := make(chan struct{})
		var once sync.Once
		stop := func() { once.Do(func() { close(done) }) }

		subID := s.emitter.SubscribeWithFilter(func(ev *Event) {
			select {
			case send <- *ev:
			default:
				s.logger.Warn("websocket client too slow, disconnecting",
					slog.String("remote", c.Request.RemoteAddr))
				stop()
			}
		}, filter, types...)
		defer s.emitter.Unsubscribe(subID)

		s.logger.Info("websocket client connected",
			slog.String("remote", c.Request.RemoteAddr),
			slog.String("subscription_id", subID))

		// Reader: the feed is one-way, so incoming frames are discarded.
		// A read error means the client went away.
		pongWait := 2 * s.pingInterval
		ws.SetReadLimit(4096)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer stop()
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(s.writeWait))
				return
			case ev := <-send:
				_ = ws.SetWriteDeadline(time.Now().Add(s.writeWait))
				if err := ws.WriteJSON(ev); err != nil {
					s.logger.Info("websocket write failed", slog.String("error", err.Error()))
					return
				}
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeWait)); err != nil {
					return
				}
			}
		}
	}
}

func parseTypes(raw string) []Type {
	if raw == "" {
		return nil
	}
	var out []Type
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, Type(p))
		}
	}
	return out
}
