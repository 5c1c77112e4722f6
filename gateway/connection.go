package gateway

import (
	"sync"
	"time"

	"github.com/buzkaaclicker/chatgate"
	"github.com/eapache/queue"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultOutboxLimit = 256

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Socket is the transport of a single connection.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one live, authenticated channel. UserId and SessionId never
// change after the handshake.
type Connection struct {
	Id          string
	UserId      chatgate.UserId
	SessionId   string
	ConnectedAt time.Time

	// rooms is owned by the hub loop.
	rooms map[chatgate.ChatId]struct{}

	socket      Socket
	outboxLimit int
	outbox      *queue.Queue
	mutex       sync.Mutex
	closed      bool
	wake        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

func newConnection(id string, session chatgate.Session, socket Socket, outboxLimit int) *Connection {
	if outboxLimit <= 0 {
		outboxLimit = DefaultOutboxLimit
	}
	return &Connection{
		Id:          id,
		UserId:      session.UserId,
		SessionId:   session.Id,
		ConnectedAt: time.Now().UTC(),
		rooms:       make(map[chatgate.ChatId]struct{}),
		socket:      socket,
		outboxLimit: outboxLimit,
		outbox:      queue.New(),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (c *Connection) log() *logrus.Entry {
	return logrus.
		WithField("connection_id", c.Id).
		WithField("user_id", c.UserId)
}

// enqueue schedules a frame for writing. It never blocks; a frame is dropped
// when the connection is closed or its outbox is full.
func (c *Connection) enqueue(frame []byte) bool {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return false
	}
	if c.outbox.Length() >= c.outboxLimit {
		c.mutex.Unlock()
		c.log().Warningln("Outbox full, event dropped.")
		return false
	}
	c.outbox.Add(frame)
	c.mutex.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Connection) dequeue() ([]byte, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.outbox.Length() == 0 {
		return nil, false
	}
	return c.outbox.Remove().([]byte), true
}

// Close stops the write pump, which closes the socket. Safe to call many times.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		c.closed = true
		c.mutex.Unlock()
		close(c.done)
	})
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.socket.Close()
	}()

	for {
		select {
		case <-c.wake:
			for {
				frame, ok := c.dequeue()
				if !ok {
					break
				}
				_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.socket.WriteMessage(websocket.TextMessage, frame); err != nil {
					c.log().WithError(err).Debugln("Write failed.")
					return
				}
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readLoop calls handle for every frame in arrival order until the socket fails.
func (c *Connection) readLoop(handle func(frame []byte)) {
	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log().WithError(err).Debugln("Connection closed unexpectedly.")
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		handle(frame)
	}
}
