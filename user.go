package chatgate

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrChatNotFound = errors.New("chat not found")
)

type UserId int64

type ChatId int64

// Valid reports whether the chat id has an acceptable shape.
func (id ChatId) Valid() bool {
	return id > 0
}

// UniqueUserIds returns ids without duplicates, keeping the first occurrence order.
func UniqueUserIds(ids []UserId) []UserId {
	seen := make(map[UserId]struct{}, len(ids))
	unique := make([]UserId, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}

type Chat struct {
	Id        ChatId   `json:"id"`
	Name      string   `json:"name"`
	MemberIds []UserId `json:"memberIds"`
}

// Directory is the relational store of users, handles and chat membership.
type Directory interface {
	ResolveUserId(ctx context.Context, apiKey string) (UserId, error)

	IsMember(ctx context.Context, userId UserId, chatId ChatId) (bool, error)

	// MemberIds returns ErrChatNotFound for unknown chats.
	MemberIds(ctx context.Context, chatId ChatId) ([]UserId, error)

	Handle(ctx context.Context, userId UserId) (string, error)

	// Chat returns ErrChatNotFound for unknown chats.
	Chat(ctx context.Context, chatId ChatId) (Chat, error)

	CreateChat(ctx context.Context, name string, memberIds []UserId) (Chat, error)

	// AddMember is a no-op if the user is already a member.
	AddMember(ctx context.Context, chatId ChatId, userId UserId) error
}
