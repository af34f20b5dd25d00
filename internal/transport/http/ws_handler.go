package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// Inbound command types.
const (
	cmdCreateRoom = "host:createRoom"
	cmdStart      = "host:start"
	cmdReveal     = "host:reveal"
	cmdNext       = "host:next"
	cmdJoin       = "player:join"
	cmdAnswer     = "player:answer"
	cmdLeave      = "player:leave"
)

type WSHandler struct {
	service  *app.GameService
	hub      *Hub
	auth     *HostAuth
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, hub *Hub, auth *HostAuth) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		auth:    auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Ref     json.RawMessage `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type codePayload struct {
	Code string `json:"code"`
}

type joinPayload struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type answerPayload struct {
	Code        string `json:"code"`
	ChoiceIndex *int   `json:"choiceIndex"`
}

type ackPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type createRoomAck struct {
	ackPayload
	domain.RoomCreated
}

type nextAck struct {
	ackPayload
	Ended bool `json:"ended"`
}

type joinAck struct {
	ackPayload
	State domain.RoomState `json:"state"`
}

type answerAck struct {
	ackPayload
	domain.AnswerResult
}

var okAck = ackPayload{OK: true}

// ServeWS upgrades the request and runs the connection until it closes. The
// host capability is decided once, from the upgrade request.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	capability := h.auth.Capability(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	connID := uuid.NewString()
	c := h.hub.register(connID)
	log.Info().Str("conn", connID).Bool("host", capability.IsHost()).Str("remote", r.RemoteAddr).Msg("connection opened")

	writerDone := make(chan struct{})
	go h.writePump(conn, c, writerDone)

	h.readPump(r.Context(), conn, c, capability, writerDone)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h.service.Disconnect(ctx, connID)
	cancel()
	h.hub.unregister(connID)
	<-writerDone
	_ = conn.Close()
	log.Info().Str("conn", connID).Msg("connection closed")
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, c *client, capability domain.Capability, writerDone <-chan struct{}) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.id).Msg("ws read failed")
			}
			return
		}
		payload := h.dispatch(ctx, c.id, capability, inbound)
		h.hub.reply(c, outboundMessage{Type: "ack", Ref: inbound.Ref, Payload: payload}, writerDone)
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, c *client, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Unblock the reader if the writer gave up first.
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("ws write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch executes one command and returns its ack payload. Command errors
// never close the connection.
func (h *WSHandler) dispatch(ctx context.Context, connID string, capability domain.Capability, msg inboundMessage) any {
	switch msg.Type {
	case cmdCreateRoom:
		created, err := h.service.CreateRoom(ctx, connID, capability)
		if err != nil {
			return errorAck(err)
		}
		return createRoomAck{ackPayload: okAck, RoomCreated: created}

	case cmdStart, cmdReveal, cmdNext:
		var p codePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return errorAck(err)
		}
		switch msg.Type {
		case cmdStart:
			if err := h.service.Start(ctx, p.Code, connID, capability); err != nil {
				return errorAck(err)
			}
		case cmdReveal:
			if err := h.service.Reveal(ctx, p.Code, connID, capability); err != nil {
				return errorAck(err)
			}
		default:
			ended, err := h.service.Next(ctx, p.Code, connID, capability)
			if err != nil {
				return errorAck(err)
			}
			return nextAck{ackPayload: okAck, Ended: ended}
		}
		return okAck

	case cmdJoin:
		var p joinPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return errorAck(err)
		}
		state, err := h.service.Join(ctx, p.Code, connID, p.Name)
		if err != nil {
			return errorAck(err)
		}
		return joinAck{ackPayload: okAck, State: state}

	case cmdAnswer:
		var p answerPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return errorAck(err)
		}
		if p.ChoiceIndex == nil {
			return errorAck(errInvalidPayload)
		}
		result, err := h.service.Answer(ctx, p.Code, connID, *p.ChoiceIndex)
		if err != nil {
			return errorAck(err)
		}
		return answerAck{ackPayload: okAck, AnswerResult: result}

	case cmdLeave:
		var p codePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return errorAck(err)
		}
		if err := h.service.Leave(ctx, p.Code, connID); err != nil {
			return errorAck(err)
		}
		return okAck

	default:
		return ackPayload{OK: false, Error: "unsupported message type"}
	}
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errInvalidPayload
	}
	return nil
}

func errorAck(err error) ackPayload {
	return ackPayload{OK: false, Error: err.Error()}
}
