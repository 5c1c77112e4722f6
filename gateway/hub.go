package gateway

import (
	"context"
	"sort"
	"time"

	"github.com/buzkaaclicker/chatgate"
	"github.com/sirupsen/logrus"
)

// Hub owns the presence registry, per-user groups and chat rooms. All of that
// state is touched only by the goroutine running Run; other goroutines submit
// operations and wait for them. Operations never perform I/O other than
// enqueuing frames, so callers must re-validate after their own I/O through
// the boolean results.
type Hub struct {
	ops     chan func()
	stopped chan struct{}

	connections map[string]*Connection
	users       map[chatgate.UserId]map[string]*Connection
	rooms       map[chatgate.ChatId]map[string]*Connection
}

func NewHub() *Hub {
	return &Hub{
		ops:         make(chan func()),
		stopped:     make(chan struct{}),
		connections: make(map[string]*Connection),
		users:       make(map[chatgate.UserId]map[string]*Connection),
		rooms:       make(map[chatgate.ChatId]map[string]*Connection),
	}
}

// Run processes operations until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for _, conn := range h.connections {
			h.remove(conn)
		}
		close(h.stopped)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-h.ops:
			op()
		}
	}
}

// do runs op on the hub goroutine and waits for it. Returns false if the hub
// is no longer running.
func (h *Hub) do(op func()) bool {
	done := make(chan struct{})
	select {
	case h.ops <- func() {
		defer close(done)
		op()
	}:
	case <-h.stopped:
		return false
	}
	<-done
	return true
}

// Admit inserts the connection into the presence registry and its user group.
func (h *Hub) Admit(conn *Connection) bool {
	return h.do(func() {
		h.connections[conn.Id] = conn
		group, ok := h.users[conn.UserId]
		if !ok {
			group = make(map[string]*Connection)
			h.users[conn.UserId] = group
		}
		group[conn.Id] = conn
	})
}

// Remove drops the connection from the registry, its user group and every
// room, and closes it.
func (h *Hub) Remove(conn *Connection) {
	if !h.do(func() { h.remove(conn) }) {
		conn.Close()
	}
}

func (h *Hub) remove(conn *Connection) {
	if registered, ok := h.connections[conn.Id]; !ok || registered != conn {
		conn.Close()
		return
	}
	delete(h.connections, conn.Id)
	if group, ok := h.users[conn.UserId]; ok {
		delete(group, conn.Id)
		if len(group) == 0 {
			delete(h.users, conn.UserId)
		}
	}
	for chatId := range conn.rooms {
		h.leaveRoom(conn, chatId)
	}
	conn.Close()
}

func (h *Hub) registered(conn *Connection) bool {
	registered, ok := h.connections[conn.Id]
	return ok && registered == conn
}

// Subscribe adds the connection to the chat room. Returns false if the
// connection is gone.
func (h *Hub) Subscribe(conn *Connection, chatId chatgate.ChatId) bool {
	subscribed := false
	h.do(func() {
		if !h.registered(conn) {
			return
		}
		room, ok := h.rooms[chatId]
		if !ok {
			room = make(map[string]*Connection)
			h.rooms[chatId] = room
		}
		room[conn.Id] = conn
		conn.rooms[chatId] = struct{}{}
		subscribed = true
	})
	return subscribed
}

// Unsubscribe removes the connection from the chat room. Returns false if the
// connection is gone.
func (h *Hub) Unsubscribe(conn *Connection, chatId chatgate.ChatId) bool {
	unsubscribed := false
	h.do(func() {
		if !h.registered(conn) {
			return
		}
		h.leaveRoom(conn, chatId)
		unsubscribed = true
	})
	return unsubscribed
}

func (h *Hub) leaveRoom(conn *Connection, chatId chatgate.ChatId) {
	delete(conn.rooms, chatId)
	if room, ok := h.rooms[chatId]; ok {
		delete(room, conn.Id)
		if len(room) == 0 {
			delete(h.rooms, chatId)
		}
	}
}

// SendToUsers delivers the event to every open connection of given users.
// Returns the number of connections the event was queued for.
func (h *Hub) SendToUsers(userIds []chatgate.UserId, event Event) (int, error) {
	return h.SendExceptSender(userIds, event, "")
}

// SendExceptSender works like SendToUsers but skips the connection with id
// senderConnectionId.
func (h *Hub) SendExceptSender(userIds []chatgate.UserId, event Event, senderConnectionId string) (int, error) {
	frame, err := event.frame()
	if err != nil {
		return 0, err
	}
	delivered := 0
	h.do(func() {
		for _, userId := range chatgate.UniqueUserIds(userIds) {
			for connId, conn := range h.users[userId] {
				if connId == senderConnectionId {
					continue
				}
				if conn.enqueue(frame) {
					delivered++
				}
			}
		}
	})
	return delivered, nil
}

// SendToRoom delivers the event to every connection subscribed to the chat.
func (h *Hub) SendToRoom(chatId chatgate.ChatId, event Event) (int, error) {
	frame, err := event.frame()
	if err != nil {
		return 0, err
	}
	delivered := 0
	h.do(func() {
		for _, conn := range h.rooms[chatId] {
			if conn.enqueue(frame) {
				delivered++
			}
		}
	})
	return delivered, nil
}

// SendToConnection delivers the event to a single connection. Returns false if
// there is no such open connection.
func (h *Hub) SendToConnection(connectionId string, event Event) (bool, error) {
	frame, err := event.frame()
	if err != nil {
		return false, err
	}
	delivered := false
	h.do(func() {
		if conn, ok := h.connections[connectionId]; ok {
			delivered = conn.enqueue(frame)
		}
	})
	return delivered, nil
}

// OnlineUsers returns those of given users that have at least one open connection.
func (h *Hub) OnlineUsers(userIds []chatgate.UserId) []chatgate.UserId {
	online := make([]chatgate.UserId, 0, len(userIds))
	h.do(func() {
		for _, userId := range chatgate.UniqueUserIds(userIds) {
			if len(h.users[userId]) > 0 {
				online = append(online, userId)
			}
		}
	})
	return online
}

// DisconnectSessions closes connections authenticated with any of given sessions.
func (h *Hub) DisconnectSessions(sessionIds []string) int {
	if len(sessionIds) == 0 {
		return 0
	}
	revoked := make(map[string]struct{}, len(sessionIds))
	for _, id := range sessionIds {
		revoked[id] = struct{}{}
	}

	disconnected := 0
	h.do(func() {
		for _, conn := range h.connections {
			if _, ok := revoked[conn.SessionId]; ok {
				h.remove(conn)
				disconnected++
			}
		}
	})
	if disconnected > 0 {
		logrus.WithField("connections", disconnected).Infoln("Disconnected revoked sessions.")
	}
	return disconnected
}

type ConnectionInfo struct {
	Id          string            `json:"id"`
	UserId      chatgate.UserId   `json:"userId"`
	ConnectedAt time.Time         `json:"connectedAt"`
	Rooms       []chatgate.ChatId `json:"rooms"`
}

// Connections returns a snapshot of the presence registry ordered by connect time.
func (h *Hub) Connections() []ConnectionInfo {
	infos := make([]ConnectionInfo, 0)
	h.do(func() {
		for _, conn := range h.connections {
			rooms := make([]chatgate.ChatId, 0, len(conn.rooms))
			for chatId := range conn.rooms {
				rooms = append(rooms, chatId)
			}
			sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
			infos = append(infos, ConnectionInfo{
				Id:          conn.Id,
				UserId:      conn.UserId,
				ConnectedAt: conn.ConnectedAt,
				Rooms:       rooms,
			})
		}
	})
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].Id < infos[j].Id
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
