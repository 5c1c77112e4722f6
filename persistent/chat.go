package persistent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/buzkaaclicker/chatgate"
	"github.com/uptrace/bun"
)

type Chat struct {
	bun.BaseModel `bun:"table:chat"`

	Id        int64     `bun:",pk,autoincrement"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	Name      string    `bun:",notnull"`
}

type ChatMember struct {
	bun.BaseModel `bun:"table:chat_member"`

	ChatId   int64     `bun:",pk"`
	UserId   int64     `bun:",pk"`
	JoinedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

func (d *Directory) IsMember(ctx context.Context, userId chatgate.UserId, chatId chatgate.ChatId) (bool, error) {
	exists, err := d.DB.NewSelect().
		Model((*ChatMember)(nil)).
		Where(`chat_id=?`, chatId).
		Where(`user_id=?`, userId).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("select chat member: %w", err)
	}
	return exists, nil
}

func (d *Directory) MemberIds(ctx context.Context, chatId chatgate.ChatId) ([]chatgate.UserId, error) {
	if err := d.requireChat(ctx, d.DB, chatId); err != nil {
		return nil, err
	}
	var ids []int64
	err := d.DB.NewSelect().
		Model((*ChatMember)(nil)).
		Column("user_id").
		Where(`chat_id=?`, chatId).
		Order("user_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("select chat members: %w", err)
	}
	userIds := make([]chatgate.UserId, len(ids))
	for i, id := range ids {
		userIds[i] = chatgate.UserId(id)
	}
	return userIds, nil
}

func (d *Directory) Chat(ctx context.Context, chatId chatgate.ChatId) (chatgate.Chat, error) {
	chat := new(Chat)
	err := d.DB.NewSelect().
		Model(chat).
		Where(`id=?`, chatId).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chatgate.Chat{}, chatgate.ErrChatNotFound
		}
		return chatgate.Chat{}, fmt.Errorf("select chat: %w", err)
	}
	memberIds, err := d.MemberIds(ctx, chatId)
	if err != nil {
		return chatgate.Chat{}, err
	}
	return chatgate.Chat{Id: chatgate.ChatId(chat.Id), Name: chat.Name, MemberIds: memberIds}, nil
}

func (d *Directory) CreateChat(ctx context.Context, name string, memberIds []chatgate.UserId) (chatgate.Chat, error) {
	memberIds = chatgate.UniqueUserIds(memberIds)
	chat := &Chat{Name: name}
	err := d.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(chat).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert chat: %w", err)
		}
		if len(memberIds) == 0 {
			return nil
		}

		members := make([]ChatMember, len(memberIds))
		for i, id := range memberIds {
			members[i] = ChatMember{ChatId: chat.Id, UserId: int64(id)}
		}
		_, err = tx.NewInsert().
			Model(&members).
			On(`CONFLICT DO NOTHING`).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert chat members: %w", err)
		}
		return nil
	})
	if err != nil {
		return chatgate.Chat{}, err
	}
	return chatgate.Chat{Id: chatgate.ChatId(chat.Id), Name: chat.Name, MemberIds: memberIds}, nil
}

func (d *Directory) AddMember(ctx context.Context, chatId chatgate.ChatId, userId chatgate.UserId) error {
	if err := d.requireChat(ctx, d.DB, chatId); err != nil {
		return err
	}
	_, err := d.DB.NewInsert().
		Model(&ChatMember{ChatId: int64(chatId), UserId: int64(userId)}).
		On(`CONFLICT DO NOTHING`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert chat member: %w", err)
	}
	return nil
}

func (d *Directory) requireChat(ctx context.Context, db bun.IDB, chatId chatgate.ChatId) error {
	exists, err := db.NewSelect().
		Model((*Chat)(nil)).
		Where(`id=?`, chatId).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("select chat: %w", err)
	}
	if !exists {
		return chatgate.ErrChatNotFound
	}
	return nil
}
