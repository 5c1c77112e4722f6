package persistent

import (
	"context"
	"fmt"
	"time"

	"github.com/buzkaaclicker/chatgate"
	"github.com/uptrace/bun"
)

type ActivityLog struct {
	bun.BaseModel `bun:"table:activity_log"`

	Id        int64                  `bun:",pk,autoincrement"`
	CreatedAt time.Time              `bun:",nullzero,notnull,default:current_timestamp"`
	UserId    int64                  `bun:",notnull"`
	Name      string                 `bun:",notnull"`
	Data      map[string]interface{} `bun:",notnull"`
}

func (l *ActivityLog) ToDomain() chatgate.ActivityLog {
	return chatgate.ActivityLog{
		Id:        l.Id,
		CreatedAt: l.CreatedAt,
		UserId:    chatgate.UserId(l.UserId),
		Name:      l.Name,
		Data:      l.Data,
	}
}

type ActivityStore struct {
	DB *bun.DB
}

var _ chatgate.ActivityStore = (*ActivityStore)(nil)

func (s *ActivityStore) AddLog(ctx context.Context, userId chatgate.UserId, activity chatgate.Activity) error {
	data := activity.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	_, err := s.DB.NewInsert().
		Model(&ActivityLog{
			UserId: int64(userId),
			Name:   activity.Name,
			Data:   data,
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

func (s *ActivityStore) ByUserId(ctx context.Context, userId chatgate.UserId,
	beforeId int64, limit int32) ([]chatgate.ActivityLog, error) {
	if limit <= 0 {
		return []chatgate.ActivityLog{}, nil
	}
	var logs []ActivityLog
	q := s.DB.NewSelect().
		Model((*ActivityLog)(nil)).
		Where("activity_log.user_id=?", userId).
		Order("id DESC").
		Limit(int(limit))
	if beforeId >= 0 {
		q = q.Where("activity_log.id<?", beforeId)
	}
	if err := q.Scan(ctx, &logs); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	ml := make([]chatgate.ActivityLog, len(logs))
	for i, l := range logs {
		ml[i] = l.ToDomain()
	}
	return ml, nil
}
