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

type User struct {
	bun.BaseModel `bun:"table:user"`

	Id        int64     `bun:",pk,autoincrement"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	ApiKey    string    `bun:",notnull,unique"`
	Profile   *Profile  `bun:"rel:has-one,join:id=user_id"`
}

// Directory answers user and chat membership lookups from postgres.
type Directory struct {
	DB *bun.DB
}

var _ chatgate.Directory = (*Directory)(nil)

// RegisterUser creates a user with its profile. Used by seeding and tests,
// credentials are issued outside of this service.
func (d *Directory) RegisterUser(ctx context.Context, apiKey string, handle string) (chatgate.UserId, error) {
	user := &User{ApiKey: apiKey}
	err := d.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(user).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}

		profile := &Profile{
			UserId: user.Id,
			Handle: handle,
		}
		_, err = tx.NewInsert().
			Model(profile).
			On(`CONFLICT (user_id) DO UPDATE SET handle=EXCLUDED.handle`).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return chatgate.UserId(user.Id), nil
}

func (d *Directory) ResolveUserId(ctx context.Context, apiKey string) (chatgate.UserId, error) {
	var id int64
	err := d.DB.NewSelect().
		Model((*User)(nil)).
		Column("id").
		Where(`api_key=?`, apiKey).
		Scan(ctx, &id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, chatgate.ErrUserNotFound
		}
		return 0, fmt.Errorf("select user: %w", err)
	}
	return chatgate.UserId(id), nil
}
