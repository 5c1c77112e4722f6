package mock

import (
	"context"

	"github.com/buzkaaclicker/chatgate"
)

type ActivityStore struct {
	AddLogFn func(ctx context.Context, userId chatgate.UserId, activity chatgate.Activity) error

	ByUserIdFn func(ctx context.Context, userId chatgate.UserId, beforeId int64, limit int32) ([]chatgate.ActivityLog, error)
}

func (s ActivityStore) AddLog(ctx context.Context, userId chatgate.UserId, activity chatgate.Activity) error {
	return s.AddLogFn(ctx, userId, activity)
}

func (s ActivityStore) ByUserId(ctx context.Context, userId chatgate.UserId,
	beforeId int64, limit int32) ([]chatgate.ActivityLog, error) {
	return s.ByUserIdFn(ctx, userId, beforeId, limit)
}
