package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/buzkaaclicker/chatgate"
)

type user struct {
	id     chatgate.UserId
	apiKey string
	handle string
}

type chat struct {
	name    string
	members map[chatgate.UserId]struct{}
}

// Directory is an in-memory chatgate.Directory.
type Directory struct {
	lastUserId int64
	lastChatId int64
	users      map[chatgate.UserId]user
	chats      map[chatgate.ChatId]*chat
	mutex      sync.RWMutex
}

var _ chatgate.Directory = (*Directory)(nil)

func NewDirectory() *Directory {
	return &Directory{
		users: make(map[chatgate.UserId]user),
		chats: make(map[chatgate.ChatId]*chat),
	}
}

func (d *Directory) RegisterUser(ctx context.Context, apiKey string, handle string) (chatgate.UserId, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.lastUserId++
	uid := chatgate.UserId(d.lastUserId)
	d.users[uid] = user{id: uid, apiKey: apiKey, handle: handle}
	return uid, nil
}

func (d *Directory) ResolveUserId(ctx context.Context, apiKey string) (chatgate.UserId, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	for _, u := range d.users {
		if u.apiKey == apiKey {
			return u.id, nil
		}
	}
	return 0, chatgate.ErrUserNotFound
}

func (d *Directory) IsMember(ctx context.Context, userId chatgate.UserId, chatId chatgate.ChatId) (bool, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	c, ok := d.chats[chatId]
	if !ok {
		return false, nil
	}
	_, member := c.members[userId]
	return member, nil
}

func (d *Directory) MemberIds(ctx context.Context, chatId chatgate.ChatId) ([]chatgate.UserId, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	c, ok := d.chats[chatId]
	if !ok {
		return nil, chatgate.ErrChatNotFound
	}
	return sortedMembers(c), nil
}

func (d *Directory) Handle(ctx context.Context, userId chatgate.UserId) (string, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	u, ok := d.users[userId]
	if !ok {
		return "", chatgate.ErrUserNotFound
	}
	return u.handle, nil
}

func (d *Directory) Chat(ctx context.Context, chatId chatgate.ChatId) (chatgate.Chat, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	c, ok := d.chats[chatId]
	if !ok {
		return chatgate.Chat{}, chatgate.ErrChatNotFound
	}
	return chatgate.Chat{Id: chatId, Name: c.name, MemberIds: sortedMembers(c)}, nil
}

func sortedMembers(c *chat) []chatgate.UserId {
	ids := make([]chatgate.UserId, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *Directory) CreateChat(ctx context.Context, name string, memberIds []chatgate.UserId) (chatgate.Chat, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	memberIds = chatgate.UniqueUserIds(memberIds)
	d.lastChatId++
	id := chatgate.ChatId(d.lastChatId)
	c := &chat{name: name, members: make(map[chatgate.UserId]struct{}, len(memberIds))}
	for _, uid := range memberIds {
		c.members[uid] = struct{}{}
	}
	d.chats[id] = c
	return chatgate.Chat{Id: id, Name: name, MemberIds: memberIds}, nil
}

func (d *Directory) AddMember(ctx context.Context, chatId chatgate.ChatId, userId chatgate.UserId) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	c, ok := d.chats[chatId]
	if !ok {
		return chatgate.ErrChatNotFound
	}
	c.members[userId] = struct{}{}
	return nil
}
