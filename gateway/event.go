package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/buzkaaclicker/chatgate"
)

// Client to gateway.
const (
	EventJoin      = "join"
	EventLeave     = "leave"
	EventCandidate = "candidate"
)

// Gateway to client.
const (
	EventConnected         = "connected"
	EventJoined            = "joined"
	EventLeft              = "left"
	EventError             = "error"
	EventReceiveMessage    = "receive_message"
	EventGroupCreated      = "group_created"
	EventGroupMemberJoined = "group_member_joined"
	EventMemberJoinedGroup = "member_joined_group"
)

// Event is a single frame exchanged over a connection.
type Event struct {
	Name string      `json:"event"`
	Data interface{} `json:"data"`
}

func (e Event) frame() ([]byte, error) {
	frame, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Name, err)
	}
	return frame, nil
}

type inboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type Connected struct {
	ConnectionId string          `json:"connection_id"`
	UserId       chatgate.UserId `json:"user_id"`
}

// RoomResult answers join and leave requests.
type RoomResult struct {
	ChatId       chatgate.ChatId `json:"chat_id"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// RoomChange tells other members that someone joined or left a room.
type RoomChange struct {
	ChatId chatgate.ChatId `json:"chat_id"`
	Sender chatgate.UserId `json:"sender"`
	Handle string          `json:"handle,omitempty"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

type roomRequest struct {
	ChatId json.RawMessage `json:"chat_id"`
}

// parseChatId accepts positive integers sent either as JSON numbers or strings.
func parseChatId(raw json.RawMessage) (chatgate.ChatId, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		id, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, false
		}
	}
	chatId := chatgate.ChatId(id)
	return chatId, chatId.Valid()
}
