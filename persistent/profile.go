package persistent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/buzkaaclicker/chatgate"
	"github.com/uptrace/bun"
)

type Profile struct {
	bun.BaseModel `bun:"table:profile"`

	Id     int64  `bun:",pk,autoincrement"`
	UserId int64  `bun:",unique,notnull"`
	Handle string `bun:",notnull"`
}

func (d *Directory) Handle(ctx context.Context, userId chatgate.UserId) (string, error) {
	profile := new(Profile)
	err := d.DB.NewSelect().
		Model(profile).
		Where(`user_id=?`, userId).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", chatgate.ErrUserNotFound
		}
		return "", fmt.Errorf("select profile: %w", err)
	}
	return profile.Handle, nil
}
