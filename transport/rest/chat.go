package rest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buzkaaclicker/chatgate"
	"github.com/buzkaaclicker/chatgate/gateway"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	maxChatNameLength = 100
	maxMessageLength  = 4000
)

// Fanout delivers events to live connections.
type Fanout interface {
	SendToUsers(userIds []chatgate.UserId, event gateway.Event) (int, error)
	SendExceptSender(userIds []chatgate.UserId, event gateway.Event, senderConnectionId string) (int, error)
	OnlineUsers(userIds []chatgate.UserId) []chatgate.UserId
	Connections() []gateway.ConnectionInfo
}

type ChatController struct {
	Directory chatgate.Directory
	Fanout    Fanout
}

func (c *ChatController) InstallTo(guard fiber.Handler, requestAuthorizer fiber.Handler, router fiber.Router) {
	router.Post("/chats", combineHandlers(guard, requestAuthorizer, c.serveCreateChat))
	router.Post("/chats/:chat_id/members", combineHandlers(guard, requestAuthorizer, c.serveAddMember))
	router.Post("/chats/:chat_id/messages", combineHandlers(guard, requestAuthorizer, c.serveSendMessage))
	router.Get("/chats/:chat_id/online", combineHandlers(guard, requestAuthorizer, c.serveOnline))
	router.Get("/connections", combineHandlers(guard, requestAuthorizer, c.serveConnections))
}

type MemberChange struct {
	ChatId chatgate.ChatId `json:"chat_id"`
	UserId chatgate.UserId `json:"user_id"`
	Handle string          `json:"handle"`
}

type Message struct {
	Id      string          `json:"id"`
	ChatId  chatgate.ChatId `json:"chat_id"`
	Sender  chatgate.UserId `json:"sender"`
	Handle  string          `json:"handle"`
	Content string          `json:"content"`
	SentAt  int64           `json:"sentAt"`
}

func chatIdParam(ctx *fiber.Ctx) (chatgate.ChatId, error) {
	id, err := ctx.ParamsInt("chat_id")
	chatId := chatgate.ChatId(id)
	if err != nil || !chatId.Valid() {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid chat id")
	}
	return chatId, nil
}

// chatMembers returns members of the chat named in the path, failing unless
// the requester is one of them.
func (c *ChatController) chatMembers(ctx *fiber.Ctx, userId chatgate.UserId) (chatgate.ChatId, []chatgate.UserId, error) {
	chatId, err := chatIdParam(ctx)
	if err != nil {
		return 0, nil, err
	}
	members, err := c.Directory.MemberIds(ctx.Context(), chatId)
	if err != nil {
		if errors.Is(err, chatgate.ErrChatNotFound) {
			return 0, nil, fiber.NewError(fiber.StatusNotFound, "chat not found")
		}
		return 0, nil, fmt.Errorf("chat member ids: %w", err)
	}
	for _, member := range members {
		if member == userId {
			return chatId, members, nil
		}
	}
	return 0, nil, fiber.NewError(fiber.StatusForbidden, "not a member of this chat")
}

func (c *ChatController) handle(ctx *fiber.Ctx, userId chatgate.UserId) (string, error) {
	handle, err := c.Directory.Handle(ctx.Context(), userId)
	if err != nil {
		if errors.Is(err, chatgate.ErrUserNotFound) {
			return "", fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return "", fmt.Errorf("handle of %d: %w", userId, err)
	}
	return handle, nil
}

func (c *ChatController) notify(ctx *fiber.Ctx, userIds []chatgate.UserId, event gateway.Event) {
	if _, err := c.Fanout.SendToUsers(userIds, event); err != nil {
		requestLog(ctx).WithError(err).WithField("event", event.Name).Errorln("Could not fan out event.")
	}
}

func (c *ChatController) serveCreateChat(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	body := struct {
		Name      string            `json:"name"`
		MemberIds []chatgate.UserId `json:"memberIds"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || len(body.Name) > maxChatNameLength {
		return fiber.NewError(fiber.StatusBadRequest, "invalid chat name")
	}
	memberIds := append([]chatgate.UserId{session.UserId}, body.MemberIds...)
	for _, id := range memberIds {
		if id <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid member id")
		}
	}

	chat, err := c.Directory.CreateChat(ctx.Context(), body.Name, memberIds)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	requestLog(ctx).
		WithField("user_id", session.UserId).
		WithField("chat_id", chat.Id).
		Infoln("Chat created.")

	c.notify(ctx, chat.MemberIds, gateway.Event{Name: gateway.EventGroupCreated, Data: chat})
	return respond(ctx, fiber.StatusCreated, chat)
}

func (c *ChatController) serveAddMember(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	chatId, members, err := c.chatMembers(ctx, session.UserId)
	if err != nil {
		return err
	}
	body := struct {
		UserId chatgate.UserId `json:"userId"`
	}{}
	if err := ctx.BodyParser(&body); err != nil || body.UserId <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid user id")
	}
	handle, err := c.handle(ctx, body.UserId)
	if err != nil {
		return err
	}
	change := MemberChange{ChatId: chatId, UserId: body.UserId, Handle: handle}
	for _, member := range members {
		if member == body.UserId {
			return respond(ctx, fiber.StatusOK, change)
		}
	}

	if err := c.Directory.AddMember(ctx.Context(), chatId, body.UserId); err != nil {
		if errors.Is(err, chatgate.ErrChatNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "chat not found")
		}
		return fmt.Errorf("add member: %w", err)
	}

	c.notify(ctx, members, gateway.Event{Name: gateway.EventGroupMemberJoined, Data: change})
	chat, err := c.Directory.Chat(ctx.Context(), chatId)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	c.notify(ctx, []chatgate.UserId{body.UserId}, gateway.Event{Name: gateway.EventMemberJoinedGroup, Data: chat})
	return respond(ctx, fiber.StatusCreated, change)
}

func (c *ChatController) serveSendMessage(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	chatId, members, err := c.chatMembers(ctx, session.UserId)
	if err != nil {
		return err
	}
	body := struct {
		Content      string `json:"content"`
		ConnectionId string `json:"connectionId"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(body.Content) == "" || len(body.Content) > maxMessageLength {
		return fiber.NewError(fiber.StatusBadRequest, "invalid content")
	}
	handle, err := c.handle(ctx, session.UserId)
	if err != nil {
		return err
	}

	message := Message{
		Id:      uuid.NewString(),
		ChatId:  chatId,
		Sender:  session.UserId,
		Handle:  handle,
		Content: body.Content,
		SentAt:  time.Now().Unix(),
	}
	delivered, err := c.Fanout.SendExceptSender(members,
		gateway.Event{Name: gateway.EventReceiveMessage, Data: message}, body.ConnectionId)
	if err != nil {
		return fmt.Errorf("fan out message: %w", err)
	}
	requestLog(ctx).
		WithField("chat_id", chatId).
		WithField("delivered", delivered).
		Debugln("Message sent.")
	return respond(ctx, fiber.StatusAccepted, message)
}

func (c *ChatController) serveOnline(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	_, members, err := c.chatMembers(ctx, session.UserId)
	if err != nil {
		return err
	}
	return respond(ctx, fiber.StatusOK, c.Fanout.OnlineUsers(members))
}

// serveConnections lists live connections of the requesting user.
func (c *ChatController) serveConnections(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	own := make([]gateway.ConnectionInfo, 0)
	for _, info := range c.Fanout.Connections() {
		if info.UserId == session.UserId {
			own = append(own, info)
		}
	}
	return respond(ctx, fiber.StatusOK, own)
}
