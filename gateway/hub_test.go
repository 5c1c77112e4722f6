package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/buzkaaclicker/chatgate"
	"github.com/stretchr/testify/assert"
)

type received struct {
	Name string                 `json:"event"`
	Data map[string]interface{} `json:"data"`
}

func startHub(t *testing.T) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func testConn(id string, userId chatgate.UserId, sessionId string) *Connection {
	return newConnection(id, chatgate.Session{Id: sessionId, UserId: userId}, nil, 0)
}

func admit(t *testing.T, hub *Hub, conns ...*Connection) {
	for _, conn := range conns {
		if !hub.Admit(conn) {
			t.Fatal("hub stopped")
		}
	}
}

// drain returns frames queued for the connection.
func drain(t *testing.T, conn *Connection) []received {
	events := make([]received, 0)
	for {
		frame, ok := conn.dequeue()
		if !ok {
			return events
		}
		var event received
		if err := json.Unmarshal(frame, &event); err != nil {
			t.Fatal(err)
		}
		events = append(events, event)
	}
}

func names(events []received) []string {
	result := make([]string, len(events))
	for i, e := range events {
		result[i] = e.Name
	}
	return result
}

func TestSendExceptSenderMultiDevice(t *testing.T) {
	assert := assert.New(t)
	hub := startHub(t)

	a1 := testConn("a1", 1, "sa1")
	a2 := testConn("a2", 1, "sa2")
	b := testConn("b", 2, "sb")
	outsider := testConn("c", 3, "sc")
	admit(t, hub, a1, a2, b, outsider)

	delivered, err := hub.SendExceptSender([]chatgate.UserId{1, 2},
		Event{Name: EventReceiveMessage, Data: map[string]interface{}{"content": "hi"}}, "a1")
	if !assert.NoError(err) {
		return
	}
	assert.Equal(2, delivered)

	assert.Empty(drain(t, a1))
	for _, conn := range []*Connection{a2, b} {
		events := drain(t, conn)
		if assert.Equal(1, len(events), conn.Id) {
			assert.Equal(EventReceiveMessage, events[0].Name)
			assert.Equal("hi", events[0].Data["content"])
		}
	}
	assert.Empty(drain(t, outsider))
}

func TestSendToUsers(t *testing.T) {
	assert := assert.New(t)
	hub := startHub(t)

	a1 := testConn("a1", 1, "sa1")
	a2 := testConn("a2", 1, "sa2")
	admit(t, hub, a1, a2)

	delivered, err := hub.SendToUsers([]chatgate.UserId{1, 1, 9}, Event{Name: EventGroupCreated})
	if assert.NoError(err) {
		assert.Equal(2, delivered)
	}
	assert.Equal([]string{EventGroupCreated}, names(drain(t, a1)))
	assert.Equal([]string{EventGroupCreated}, names(drain(t, a2)))
}

func TestRooms(t *testing.T) {
	assert := assert.New(t)
	hub := startHub(t)

	a := testConn("a", 1, "sa")
	b := testConn("b", 2, "sb")
	admit(t, hub, a, b)

	assert.True(hub.Subscribe(a, 10))
	assert.True(hub.Subscribe(b, 10))
	assert.True(hub.Subscribe(b, 11))

	delivered, err := hub.SendToRoom(10, Event{Name: EventReceiveMessage})
	if assert.NoError(err) {
		assert.Equal(2, delivered)
	}
	assert.True(hub.Unsubscribe(b, 10))
	delivered, err = hub.SendToRoom(10, Event{Name: EventReceiveMessage})
	if assert.NoError(err) {
		assert.Equal(1, delivered)
	}

	infos := hub.Connections()
	if assert.Equal(2, len(infos)) {
		rooms := map[string][]chatgate.ChatId{}
		for _, info := range infos {
			rooms[info.Id] = info.Rooms
		}
		assert.Equal([]chatgate.ChatId{10}, rooms["a"])
		assert.Equal([]chatgate.ChatId{11}, rooms["b"])
	}

	hub.Remove(a)
	delivered, err = hub.SendToRoom(10, Event{Name: EventReceiveMessage})
	if assert.NoError(err) {
		assert.Equal(0, delivered)
	}
	assert.False(hub.Subscribe(a, 10), "removed connection cannot subscribe")
	assert.False(hub.Unsubscribe(a, 11))
}

func TestSendToConnection(t *testing.T) {
	assert := assert.New(t)
	hub := startHub(t)

	a := testConn("a", 1, "sa")
	admit(t, hub, a)

	ok, err := hub.SendToConnection("a", Event{Name: EventCandidate})
	if assert.NoError(err) {
		assert.True(ok)
	}
	ok, err = hub.SendToConnection("missing", Event{Name: EventCandidate})
	if assert.NoError(err) {
		assert.False(ok)
	}
	_, err = hub.SendToConnection("a", Event{Name: EventCandidate, Data: make(chan int)})
	assert.Error(err)
	assert.Equal([]string{EventCandidate}, names(drain(t, a)))
}

func TestOnlineUsers(t *testing.T) {
	assert := assert.New(t)
	hub := startHub(t)

	a := testConn("a", 1, "sa")
	b := testConn("b", 2, "sb")
	admit(t, hub, a, b)

	assert.Equal([]chatgate.UserId{1, 2}, hub.OnlineUsers([]chatgate.UserId{1, 2, 3}))
	hub.Remove(b)
	assert.Equal([]chatgate.UserId{1}, hub.OnlineUsers([]chatgate.UserId{1, 2, 3}))
}

func TestDisconnectSessions(t *testing.T) {
	assert := assert.New(t)
	hub := startHub(t)

	a1 := testConn("a1", 1, "s1")
	a2 := testConn("a2", 1, "s1")
	a3 := testConn("a3", 1, "s2")
	admit(t, hub, a1, a2, a3)
	assert.True(hub.Subscribe(a1, 5))

	assert.Equal(2, hub.DisconnectSessions([]string{"s1", "unknown"}))
	assert.Equal(0, hub.DisconnectSessions(nil))

	infos := hub.Connections()
	if assert.Equal(1, len(infos)) {
		assert.Equal("a3", infos[0].Id)
	}
	for _, conn := range []*Connection{a1, a2} {
		select {
		case <-conn.done:
		default:
			t.Errorf("connection %s not closed", conn.Id)
		}
		assert.False(conn.enqueue([]byte("{}")))
	}
	delivered, err := hub.SendToRoom(5, Event{Name: EventReceiveMessage})
	if assert.NoError(err) {
		assert.Equal(0, delivered)
	}
}

func TestOutboxLimit(t *testing.T) {
	assert := assert.New(t)
	hub := startHub(t)

	conn := newConnection("a", chatgate.Session{Id: "s", UserId: 1}, nil, 2)
	admit(t, hub, conn)

	for i := 0; i < 3; i++ {
		_, err := hub.SendToUsers([]chatgate.UserId{1}, Event{Name: EventReceiveMessage})
		assert.NoError(err)
	}
	assert.Equal(2, len(drain(t, conn)))
}

func TestStoppedHub(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		hub.Run(ctx)
	}()

	conn := testConn("a", 1, "s")
	admit(t, hub, conn)
	cancel()
	<-finished

	select {
	case <-conn.done:
	default:
		t.Error("connection not closed on hub stop")
	}
	assert.False(hub.Admit(testConn("b", 2, "s2")))
	assert.Empty(hub.Connections())
}
