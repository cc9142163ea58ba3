// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the gin middleware in front of the planner
// handlers: request IDs and the caller's actor identity.
//
// Authentication happens upstream. By the time a request reaches the
// planner the gateway has already verified the caller and forwards the
// user ID in the X-Actor-ID header; this package only carries it.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPlanner/pkg/validation"
	"github.com/AleutianAI/AleutianPlanner/services/planner/events"
)

const (
	// ActorHeader carries the authenticated user ID.
	ActorHeader = "X-Actor-ID"

	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"

	// CodeActorRequired is returned when a mutating route has no actor.
	CodeActorRequired = "ACTOR_REQUIRED"

	actorKey     = "planner_actor"
	requestIDKey = "planner_request_id"

	maxHeaderLen = 256
)

// SetActor stores the actor in the gin context.
func SetActor(c *gin.Context, actor string) {
	c.Set(actorKey, actor)
}

// ActorFrom returns the actor stored by Actor or SetActor, or "".
func ActorFrom(c *gin.Context) string {
	v, ok := c.Get(actorKey)
	if !ok {
		return ""
	}
	actor, _ := v.(string)
	return actor
}

// RequestIDFrom returns the request ID stored by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Actor reads X-Actor-ID into the context when present. It never rejects;
// pair it with RequireActor on routes that mutate state.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor, err := validation.SanitizeUserID(c.GetHeader(ActorHeader)); err == nil {
			SetActor(c, actor)
		}
		c.Next()
	}
}

// RequireActor aborts with 401 when no actor was supplied.
//
// Response body:
//
//	{"error": "actor identity required", "code": "ACTOR_REQUIRED", "retryable": false}
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ActorFrom(c) == "" {
			if actor, err := validation.SanitizeUserID(c.GetHeader(ActorHeader)); err == nil {
				SetActor(c, actor)
			}
		}
		if ActorFrom(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":     "actor identity required",
				"code":      CodeActorRequired,
				"retryable": false,
			})
			return
		}
		c.Next()
	}
}

// RequestID reuses the caller's X-Request-ID or generates one, echoes it
// on the response and attaches it to the request context so events
// published while handling the request carry it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := cleanHeader(c.GetHeader(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(events.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// cleanHeader trims v and drops values that are too long or contain
// control characters.
func cleanHeader(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > maxHeaderLen {
		return ""
	}
	for _, r := range v {
		if r < 0x20 || r == 0x7f {
			return ""
		}
	}
	return v
}
