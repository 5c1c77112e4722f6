package mock

import (
	"context"

	"github.com/buzkaaclicker/chatgate"
)

type SessionStore struct {
	GetFn func(ctx context.Context, token string) (chatgate.Session, error)

	SetFn func(ctx context.Context, session chatgate.Session) error

	UpdateFn func(ctx context.Context, session chatgate.Session) error

	DeleteFn func(ctx context.Context, token string) error

	ScanTokensFn func(ctx context.Context) ([]string, error)
}

func (s SessionStore) Get(ctx context.Context, token string) (chatgate.Session, error) {
	return s.GetFn(ctx, token)
}

func (s SessionStore) Set(ctx context.Context, session chatgate.Session) error {
	return s.SetFn(ctx, session)
}

func (s SessionStore) Update(ctx context.Context, session chatgate.Session) error {
	return s.UpdateFn(ctx, session)
}

func (s SessionStore) Delete(ctx context.Context, token string) error {
	return s.DeleteFn(ctx, token)
}

func (s SessionStore) ScanTokens(ctx context.Context) ([]string, error) {
	return s.ScanTokensFn(ctx)
}
