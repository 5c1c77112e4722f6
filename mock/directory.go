package mock

import (
	"context"

	"github.com/buzkaaclicker/chatgate"
)

type Directory struct {
	ResolveUserIdFn func(ctx context.Context, apiKey string) (chatgate.UserId, error)

	IsMemberFn func(ctx context.Context, userId chatgate.UserId, chatId chatgate.ChatId) (bool, error)

	MemberIdsFn func(ctx context.Context, chatId chatgate.ChatId) ([]chatgate.UserId, error)

	HandleFn func(ctx context.Context, userId chatgate.UserId) (string, error)

	ChatFn func(ctx context.Context, chatId chatgate.ChatId) (chatgate.Chat, error)

	CreateChatFn func(ctx context.Context, name string, memberIds []chatgate.UserId) (chatgate.Chat, error)

	AddMemberFn func(ctx context.Context, chatId chatgate.ChatId, userId chatgate.UserId) error
}

func (d Directory) ResolveUserId(ctx context.Context, apiKey string) (chatgate.UserId, error) {
	return d.ResolveUserIdFn(ctx, apiKey)
}

func (d Directory) IsMember(ctx context.Context, userId chatgate.UserId, chatId chatgate.ChatId) (bool, error) {
	return d.IsMemberFn(ctx, userId, chatId)
}

func (d Directory) MemberIds(ctx context.Context, chatId chatgate.ChatId) ([]chatgate.UserId, error) {
	return d.MemberIdsFn(ctx, chatId)
}

func (d Directory) Handle(ctx context.Context, userId chatgate.UserId) (string, error) {
	return d.HandleFn(ctx, userId)
}

func (d Directory) CreateChat(ctx context.Context, name string, memberIds []chatgate.UserId) (chatgate.Chat, error) {
	return d.CreateChatFn(ctx, name, memberIds)
}

func (d Directory) AddMember(ctx context.Context, chatId chatgate.ChatId, userId chatgate.UserId) error {
	return d.AddMemberFn(ctx, chatId, userId)
}

func (d Directory) Chat(ctx context.Context, chatId chatgate.ChatId) (chatgate.Chat, error) {
	return d.ChatFn(ctx, chatId)
}
