package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AnshRaj112/trialguard-backend/internal/middleware"
	"github.com/AnshRaj112/trialguard-backend/internal/services"
)

var reviewUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

const (
	reviewWriteWait  = 10 * time.Second
	reviewPongWait   = 90 * time.Second
	reviewPingPeriod = 30 * time.Second
)

// ReviewFeedHandler streams denials and operator actions to the review UI.
type ReviewFeedHandler struct {
	feed     *services.ReviewFeed
	sessions services.AdminSessions
}

func NewReviewFeedHandler(feed *services.ReviewFeed, sessions services.AdminSessions) *ReviewFeedHandler {
	return &ReviewFeedHandler{feed: feed, sessions: sessions}
}

// ReviewWebSocket authenticates with the operator session token, from the
// Authorization header or the token query parameter for browser clients.
func (h *ReviewFeedHandler) ReviewWebSocket(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	_, ok, err := h.sessions.Validate(r.Context(), token)
	if err != nil || !ok {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	// subscribe before the handshake completes so no event is missed
	events, unsubscribe := h.feed.Subscribe()
	defer unsubscribe()

	conn, err := reviewUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// reader: only pongs and close frames are expected
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Now().Add(reviewPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(reviewPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(reviewPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(reviewWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(reviewWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
