package rest

import (
	"context"
	"testing"

	"github.com/buzkaaclicker/chatgate"
	"github.com/buzkaaclicker/chatgate/gateway"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

type chatFixture struct {
	api   testApi
	alice chatgate.UserId
	bob   chatgate.UserId
	carol chatgate.UserId
	token string
}

func newChatFixture(t *testing.T) chatFixture {
	ctx := context.Background()
	api := newTestApi(nil)
	alice, _ := api.directory.RegisterUser(ctx, "key-alice", "alice")
	bob, _ := api.directory.RegisterUser(ctx, "key-bob", "bob")
	carol, _ := api.directory.RegisterUser(ctx, "key-carol", "carol")
	return chatFixture{api: api, alice: alice, bob: bob, carol: carol, token: api.login(t, alice).Token}
}

func TestCreateChat(t *testing.T) {
	assert := assert.New(t)
	f := newChatFixture(t)

	status, body := f.api.call(t, fiber.MethodPost, "/api/chats", f.token,
		map[string]interface{}{"name": "general", "memberIds": []chatgate.UserId{f.bob}})
	if !assert.Equal(fiber.StatusCreated, status, body) {
		return
	}
	var chat chatgate.Chat
	field(t, body, "chat", &chat)
	assert.Equal("general", chat.Name)
	assert.Equal([]chatgate.UserId{f.alice, f.bob}, chat.MemberIds)

	events := f.api.fanout.events()
	if assert.Equal(1, len(events)) {
		assert.Equal(gateway.EventGroupCreated, events[0].Event.Name)
		assert.Equal([]chatgate.UserId{f.alice, f.bob}, events[0].UserIds)
	}

	status, _ = f.api.call(t, fiber.MethodPost, "/api/chats", f.token, map[string]interface{}{"name": "  "})
	assert.Equal(fiber.StatusBadRequest, status)
	status, _ = f.api.call(t, fiber.MethodPost, "/api/chats", f.token,
		map[string]interface{}{"name": "x", "memberIds": []int{-1}})
	assert.Equal(fiber.StatusBadRequest, status)
	status, _ = f.api.call(t, fiber.MethodPost, "/api/chats", "", map[string]interface{}{"name": "x"})
	assert.Equal(fiber.StatusUnauthorized, status)
}

func TestAddMember(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newChatFixture(t)
	chat, _ := f.api.directory.CreateChat(ctx, "general", []chatgate.UserId{f.alice, f.bob})

	status, body := f.api.call(t, fiber.MethodPost, "/api/chats/1/members", f.token,
		map[string]interface{}{"userId": f.carol})
	if !assert.Equal(fiber.StatusCreated, status, body) {
		return
	}
	assert.Equal(`{"member":{"chat_id":1,"user_id":3,"handle":"carol"},"code":201,"errorDescription":null}`, body)

	events := f.api.fanout.events()
	if assert.Equal(2, len(events)) {
		assert.Equal(gateway.EventGroupMemberJoined, events[0].Event.Name)
		assert.Equal([]chatgate.UserId{f.alice, f.bob}, events[0].UserIds)
		assert.Equal(gateway.EventMemberJoinedGroup, events[1].Event.Name)
		assert.Equal([]chatgate.UserId{f.carol}, events[1].UserIds)
		assert.Equal(chatgate.Chat{Id: chat.Id, Name: "general",
			MemberIds: []chatgate.UserId{f.alice, f.bob, f.carol}}, events[1].Event.Data)
	}

	// already a member
	status, _ = f.api.call(t, fiber.MethodPost, "/api/chats/1/members", f.token,
		map[string]interface{}{"userId": f.carol})
	assert.Equal(fiber.StatusOK, status)
	assert.Equal(2, len(f.api.fanout.events()))

	type Case struct {
		Target     string
		Body       map[string]interface{}
		StatusCode int
	}
	cases := []Case{
		{Target: "/api/chats/abc/members", Body: map[string]interface{}{"userId": f.carol}, StatusCode: 400},
		{Target: "/api/chats/0/members", Body: map[string]interface{}{"userId": f.carol}, StatusCode: 400},
		{Target: "/api/chats/99/members", Body: map[string]interface{}{"userId": f.carol}, StatusCode: 404},
		{Target: "/api/chats/1/members", Body: map[string]interface{}{"userId": 0}, StatusCode: 400},
		{Target: "/api/chats/1/members", Body: map[string]interface{}{"userId": 404}, StatusCode: 404},
	}
	for _, c := range cases {
		status, body := f.api.call(t, fiber.MethodPost, c.Target, f.token, c.Body)
		assert.Equal(c.StatusCode, status, c.Target+" "+body)
	}
}

func TestAddMemberRequiresMembership(t *testing.T) {
	ctx := context.Background()
	f := newChatFixture(t)
	_, _ = f.api.directory.CreateChat(ctx, "private", []chatgate.UserId{f.bob})

	status, body := f.api.call(t, fiber.MethodPost, "/api/chats/1/members", f.token,
		map[string]interface{}{"userId": f.carol})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, `{"member":null,"code":403,"errorDescription":"not a member of this chat"}`, body)
	assert.Empty(t, f.api.fanout.events())
}

func TestSendMessage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newChatFixture(t)
	_, _ = f.api.directory.CreateChat(ctx, "general", []chatgate.UserId{f.alice, f.bob})

	status, body := f.api.call(t, fiber.MethodPost, "/api/chats/1/messages", f.token,
		map[string]interface{}{"content": "hello", "connectionId": "conn-1"})
	if !assert.Equal(fiber.StatusAccepted, status, body) {
		return
	}
	var message Message
	field(t, body, "message", &message)
	assert.Equal("hello", message.Content)
	assert.Equal("alice", message.Handle)
	assert.Equal(f.alice, message.Sender)
	assert.NotEmpty(message.Id)

	events := f.api.fanout.events()
	if assert.Equal(1, len(events)) {
		assert.Equal(gateway.EventReceiveMessage, events[0].Event.Name)
		assert.Equal("conn-1", events[0].Except)
		assert.Equal([]chatgate.UserId{f.alice, f.bob}, events[0].UserIds)
	}

	status, _ = f.api.call(t, fiber.MethodPost, "/api/chats/1/messages", f.token,
		map[string]interface{}{"content": " "})
	assert.Equal(fiber.StatusBadRequest, status)

	carolToken := f.api.login(t, f.carol).Token
	status, _ = f.api.call(t, fiber.MethodPost, "/api/chats/1/messages", carolToken,
		map[string]interface{}{"content": "hi"})
	assert.Equal(fiber.StatusForbidden, status)
}

func TestOnlineAndConnections(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newChatFixture(t)
	_, _ = f.api.directory.CreateChat(ctx, "general", []chatgate.UserId{f.alice, f.bob})
	f.api.fanout.online = []chatgate.UserId{f.bob, f.carol}
	f.api.fanout.conns = []gateway.ConnectionInfo{
		{Id: "a", UserId: f.alice, Rooms: []chatgate.ChatId{}},
		{Id: "b", UserId: f.bob, Rooms: []chatgate.ChatId{}},
	}

	status, body := f.api.call(t, fiber.MethodGet, "/api/chats/1/online", f.token, nil)
	assert.Equal(fiber.StatusOK, status)
	assert.Equal(`{"online":[2],"code":200,"errorDescription":null}`, body)

	status, body = f.api.call(t, fiber.MethodGet, "/api/connections", f.token, nil)
	assert.Equal(fiber.StatusOK, status)
	var conns []gateway.ConnectionInfo
	field(t, body, "connections", &conns)
	if assert.Equal(1, len(conns)) {
		assert.Equal("a", conns[0].Id)
	}
}
