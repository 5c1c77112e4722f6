package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/buzkaaclicker/chatgate"
)

type ActivityStore struct {
	lastId int64
	logs   map[chatgate.UserId][]chatgate.ActivityLog
	mutex  sync.RWMutex
}

func NewActivityStore() *ActivityStore {
	return &ActivityStore{
		lastId: 0,
		logs:   make(map[chatgate.UserId][]chatgate.ActivityLog),
	}
}

func (s *ActivityStore) AddLog(ctx context.Context, userId chatgate.UserId, activity chatgate.Activity) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ulogs, ok := s.logs[userId]
	if !ok {
		ulogs = make([]chatgate.ActivityLog, 0, 10)
	}
	s.lastId++
	ulogs = append(ulogs, chatgate.ActivityLog{
		Id:        s.lastId,
		CreatedAt: time.Now().UTC(),
		UserId:    userId,
		Name:      activity.Name,
		Data:      activity.Data,
	})
	s.logs[userId] = ulogs
	return nil
}

// ByUserId returns logs from the newest one.
func (s *ActivityStore) ByUserId(ctx context.Context, userId chatgate.UserId,
	beforeId int64, limit int32) ([]chatgate.ActivityLog, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	logs := s.logs[userId]
	result := make([]chatgate.ActivityLog, 0, len(logs))
	for i := len(logs) - 1; i >= 0 && int32(len(result)) < limit; i-- {
		if beforeId >= 0 && logs[i].Id >= beforeId {
			continue
		}
		result = append(result, logs[i])
	}
	return result, nil
}
