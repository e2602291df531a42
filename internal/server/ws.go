package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/quickjot/quickjot/types"
)

// chatMessage is one inbound WebSocket frame.
type chatMessage struct {
	InputText string         `json:"input_text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// handleChat upgrades the connection and serves a message loop: each inbound
// JSON frame becomes one routed request and one response frame. Responses
// are written under a mutex because the router may be slow while the client
// keeps sending.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		userID = r.URL.Query().Get("user_id")
	}
	if strings.TrimSpace(userID) == "" {
		writeJSON(w, http.StatusBadRequest, types.Fail("no user identity on the request"))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	log := s.logger.With(zap.String("user_id", userID))
	log.Info("chat session opened")

	var writeMu sync.Mutex
	send := func(ctx context.Context, resp *types.AccessResponse) error {
		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.Write(ctx, websocket.MessageText, data)
	}

	ctx := r.Context()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				log.Info("chat session closed")
			} else {
				log.Warn("chat read failed", zap.Error(err))
			}
			return
		}
		if msgType != websocket.MessageText {
			if err := send(ctx, types.Fail("only text frames are supported")); err != nil {
				return
			}
			continue
		}

		var msg chatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := send(ctx, types.Fail("message is not valid JSON")); err != nil {
				return
			}
			continue
		}

		resp := s.router.Route(ctx, &types.AccessRequest{
			UserID:    userID,
			InputText: msg.InputText,
			Channel:   types.ChannelChat,
			Metadata:  msg.Metadata,
		})
		if err := send(ctx, resp); err != nil {
			log.Warn("chat write failed", zap.Error(err))
			return
		}
	}
}
