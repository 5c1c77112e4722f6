// Package gateway serves real-time connections: it authenticates websocket
// handshakes against sessions, tracks presence, manages chat rooms and fans
// events out to connections.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/buzkaaclicker/chatgate"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	sessionLocalsKey = "gateway_session"

	SessionIdQuery  = "sessionId"
	SessionIdHeader = "X-Session-Id"

	msgNoSessionId   = "no session_id provided."
	msgNoSession     = "no active session"
	msgInternalError = "internal authentication error"

	msgInvalidChatId = "invalid chat id"
	msgNotMember     = "not a member of this chat"
	msgInternal      = "internal error"
)

// Sessions verifies handshake tokens.
type Sessions interface {
	Verify(ctx context.Context, token string) (chatgate.Session, error)
	Refresh(ctx context.Context, session chatgate.Session, ip string, userAgent string) (chatgate.Session, error)
	EnforceAsync(userId chatgate.UserId, currentToken string)
}

type Gateway struct {
	Hub       *Hub
	Sessions  Sessions
	Directory chatgate.Directory

	OutboxLimit int
	// Origins allowed to open connections, all if empty.
	Origins []string
}

func (g *Gateway) InstallTo(app *fiber.App) {
	app.Get("/ws", g.Authenticate, websocket.New(g.serve, websocket.Config{Origins: g.Origins}))
}

type handshakeErrorData struct {
	Status int `json:"status"`
}

type handshakeError struct {
	Message string             `json:"message"`
	Data    handshakeErrorData `json:"data"`
}

func rejectHandshake(ctx *fiber.Ctx, message string) error {
	return ctx.Status(fiber.StatusUnauthorized).JSON(handshakeError{
		Message: message,
		Data:    handshakeErrorData{Status: fiber.StatusUnauthorized},
	})
}

func handshakeToken(ctx *fiber.Ctx) string {
	if token := ctx.Query(SessionIdQuery); token != "" {
		return token
	}
	return strings.TrimSpace(ctx.Get(SessionIdHeader))
}

// Authenticate runs before the websocket upgrade. Rejected requests are
// answered with 401 and never reach the presence registry.
func (g *Gateway) Authenticate(ctx *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}
	log := logrus.WithField("remote_addr", ctx.IP())

	token := handshakeToken(ctx)
	if token == "" {
		log.Debugln("Handshake without session id.")
		return rejectHandshake(ctx, msgNoSessionId)
	}

	session, err := g.Sessions.Verify(ctx.Context(), token)
	if err != nil {
		if chatgate.IsSessionInvalid(err) {
			log.WithField("reason", err.Error()).Infoln("Handshake with invalid session.")
			return rejectHandshake(ctx, msgNoSession)
		}
		log.WithError(err).Errorln("Could not verify handshake session.")
		return rejectHandshake(ctx, msgInternalError)
	}

	session, err = g.Sessions.Refresh(ctx.Context(), session,
		utils.CopyString(ctx.IP()), utils.CopyString(ctx.Get(fiber.HeaderUserAgent)))
	if err != nil {
		if chatgate.IsSessionInvalid(err) {
			log.WithField("reason", err.Error()).Infoln("Handshake session revoked during refresh.")
			return rejectHandshake(ctx, msgNoSession)
		}
		log.WithError(err).Errorln("Could not refresh handshake session.")
		return rejectHandshake(ctx, msgInternalError)
	}
	g.Sessions.EnforceAsync(session.UserId, session.Token)

	ctx.Locals(sessionLocalsKey, session)
	return ctx.Next()
}

func (g *Gateway) serve(socket *websocket.Conn) {
	session, ok := socket.Locals(sessionLocalsKey).(chatgate.Session)
	if !ok {
		logrus.Errorln("Upgraded connection without session.")
		_ = socket.Close()
		return
	}

	conn := newConnection(uuid.NewString(), session, socket, g.OutboxLimit)
	if !g.connect(conn) {
		_ = socket.Close()
		return
	}
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		conn.writePump()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-conn.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	conn.readLoop(func(frame []byte) {
		g.handle(ctx, conn, frame)
	})
	cancel()

	g.Hub.Remove(conn)
	<-pumpDone
	conn.log().Infoln("Connection closed.")
}

// connect registers the connection and greets it with its id.
func (g *Gateway) connect(conn *Connection) bool {
	if !g.Hub.Admit(conn) {
		return false
	}
	conn.log().Infoln("Connection admitted.")
	g.reply(conn, Event{Name: EventConnected, Data: Connected{ConnectionId: conn.Id, UserId: conn.UserId}})
	return true
}

func (g *Gateway) reply(conn *Connection, event Event) {
	if _, err := g.Hub.SendToConnection(conn.Id, event); err != nil {
		conn.log().WithError(err).Errorln("Could not reply.")
	}
}

func (g *Gateway) handle(ctx context.Context, conn *Connection, frame []byte) {
	var event inboundEvent
	if err := json.Unmarshal(frame, &event); err != nil {
		g.reply(conn, Event{Name: EventError, Data: ErrorMessage{Message: "invalid frame"}})
		return
	}

	switch event.Name {
	case EventJoin:
		g.join(ctx, conn, event.Data)
	case EventLeave:
		g.leave(ctx, conn, event.Data)
	case EventCandidate:
		g.relayCandidate(conn, event.Data)
	default:
		g.reply(conn, Event{Name: EventError, Data: ErrorMessage{Message: "unknown event"}})
	}
}

// authorizeRoom checks the chat id and membership of the connection's user and
// returns the current members. A rejection is replied under eventName.
func (g *Gateway) authorizeRoom(ctx context.Context, conn *Connection, eventName string,
	data json.RawMessage) (chatgate.ChatId, []chatgate.UserId, bool) {
	var request roomRequest
	if len(data) > 0 {
		_ = json.Unmarshal(data, &request)
	}
	chatId, valid := parseChatId(request.ChatId)
	if !valid {
		g.reply(conn, Event{Name: eventName, Data: RoomResult{Success: false, ErrorMessage: msgInvalidChatId}})
		return 0, nil, false
	}
	log := conn.log().WithField("chat_id", chatId)

	member, err := g.Directory.IsMember(ctx, conn.UserId, chatId)
	if err != nil {
		log.WithError(err).Errorln("Could not check chat membership.")
		g.reply(conn, Event{Name: eventName, Data: RoomResult{ChatId: chatId, ErrorMessage: msgInternal}})
		return 0, nil, false
	}
	if !member {
		log.Debugln("Room request of a non-member.")
		g.reply(conn, Event{Name: eventName, Data: RoomResult{ChatId: chatId, ErrorMessage: msgNotMember}})
		return 0, nil, false
	}

	members, err := g.Directory.MemberIds(ctx, chatId)
	if err != nil {
		log.WithError(err).Errorln("Could not list chat members.")
		g.reply(conn, Event{Name: eventName, Data: RoomResult{ChatId: chatId, ErrorMessage: msgInternal}})
		return 0, nil, false
	}
	return chatId, members, true
}

func (g *Gateway) roomChange(ctx context.Context, conn *Connection, chatId chatgate.ChatId) RoomChange {
	handle, err := g.Directory.Handle(ctx, conn.UserId)
	if err != nil && !errors.Is(err, chatgate.ErrUserNotFound) {
		conn.log().WithError(err).Warningln("Could not resolve handle.")
	}
	return RoomChange{ChatId: chatId, Sender: conn.UserId, Handle: handle}
}

func (g *Gateway) join(ctx context.Context, conn *Connection, data json.RawMessage) {
	chatId, members, ok := g.authorizeRoom(ctx, conn, EventJoin, data)
	if !ok {
		return
	}
	change := g.roomChange(ctx, conn, chatId)

	if !g.Hub.Subscribe(conn, chatId) {
		return
	}
	if _, err := g.Hub.SendExceptSender(members, Event{Name: EventJoined, Data: change}, conn.Id); err != nil {
		conn.log().WithError(err).Errorln("Could not notify join.")
	}
	g.reply(conn, Event{Name: EventJoin, Data: RoomResult{ChatId: chatId, Success: true}})
}

func (g *Gateway) leave(ctx context.Context, conn *Connection, data json.RawMessage) {
	chatId, members, ok := g.authorizeRoom(ctx, conn, EventLeave, data)
	if !ok {
		return
	}
	change := g.roomChange(ctx, conn, chatId)

	if !g.Hub.Unsubscribe(conn, chatId) {
		return
	}
	if _, err := g.Hub.SendExceptSender(members, Event{Name: EventLeft, Data: change}, conn.Id); err != nil {
		conn.log().WithError(err).Errorln("Could not notify leave.")
	}
	g.reply(conn, Event{Name: EventLeave, Data: RoomResult{ChatId: chatId, Success: true}})
}

type candidateRecipient struct {
	To string `json:"to"`
}

// relayCandidate forwards signaling data unmodified to the connection named in "to".
func (g *Gateway) relayCandidate(conn *Connection, data json.RawMessage) {
	var recipient candidateRecipient
	if len(data) == 0 || json.Unmarshal(data, &recipient) != nil || recipient.To == "" {
		conn.log().Debugln("Candidate without recipient dropped.")
		return
	}
	delivered, err := g.Hub.SendToConnection(recipient.To, Event{Name: EventCandidate, Data: data})
	if err != nil {
		conn.log().WithError(err).Warningln("Could not relay candidate.")
		return
	}
	if !delivered {
		conn.log().WithField("to", recipient.To).Debugln("Candidate recipient not connected.")
	}
}
