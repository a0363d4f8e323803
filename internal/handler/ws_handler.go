/*
Package handler provides the HTTP handlers and routing setup for the collaboration server.

This file contains HandleWebSocket, the connection gate's HTTP side: it rate limits
handshakes, verifies the presented credential, upgrades the connection, and starts
the client lifecycle. A connection that fails verification is refused before any
room state is touched.
*/
package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"codecollab/internal/app/collab"
	"codecollab/internal/pkg/errs"
	"codecollab/internal/pkg/limiter"
	"codecollab/internal/pkg/logx"
	"codecollab/internal/pkg/resp"
)

// bearerToken extracts the credential from the Authorization header or, since
// browsers cannot set headers on WebSocket upgrades, from the token query
// parameter.
func bearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	return r.URL.Query().Get("token")
}

// HandleWebSocket creates the HTTP handler for WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r.RemoteAddr) {
			logx.Warn("WebSocket handshake rejected: rate limit exceeded.")
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		token := bearerToken(r)
		if token == "" {
			logx.Warn("WebSocket handshake rejected: no credential presented.")
			resp.RespondError(w, r, errs.NewError(errs.ErrTokenMissing))
			return
		}

		claims, authErr := deps.Verifier.VerifyContext(r.Context(), token)
		if authErr != nil {
			logx.Warn("WebSocket handshake rejected: credential verification failed.",
				"code", authErr.Code)
			resp.RespondError(w, r, authErr)
			return
		}

		identity := claims.Identity()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		conn := collab.NewConn(deps.Hub, ws, identity)

		if !deps.Hub.Register(conn) {
			logx.Warn("WebSocket connection refused: hub is shutting down.", "user_id", identity.ID)
			ws.Close()
			return
		}

		go conn.WritePump()

		logx.Info("WebSocket connection established",
			"conn_id", conn.ID(), "user_id", identity.ID, "email", identity.Email)

		conn.ReadPump()
	}
}
