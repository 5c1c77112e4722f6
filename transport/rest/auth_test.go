package rest

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/buzkaaclicker/chatgate"
	"github.com/buzkaaclicker/chatgate/mock"
	"github.com/buzkaaclicker/chatgate/session"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestLoginLogoutFlow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	api := newTestApi(nil)
	userId, _ := api.directory.RegisterUser(ctx, "secret-key", "alice")

	status, body := api.call(t, fiber.MethodPost, "/api/session", "", map[string]string{"apiKey": "wrong"})
	assert.Equal(fiber.StatusUnauthorized, status)
	assert.Equal(`{"session":null,"code":401,"errorDescription":"invalid api key"}`, body)

	status, body = api.call(t, fiber.MethodPost, "/api/session", "", map[string]string{})
	assert.Equal(fiber.StatusUnauthorized, status)

	status, body = api.call(t, fiber.MethodPost, "/api/session", "", map[string]string{"apiKey": "secret-key"})
	if !assert.Equal(fiber.StatusCreated, status, body) {
		return
	}
	var created struct {
		Token  string          `json:"token"`
		Id     string          `json:"id"`
		UserId chatgate.UserId `json:"userId"`
	}
	field(t, body, "session", &created)
	assert.Equal(userId, created.UserId)
	assert.NotEqual(created.Token, created.Id)
	stored, err := api.store.Get(ctx, created.Token)
	if assert.NoError(err) {
		assert.Equal(created.Id, stored.Id)
	}

	logs, err := api.activities.ByUserId(ctx, userId, -1, 10)
	if assert.NoError(err) && assert.GreaterOrEqual(len(logs), 1) {
		assert.Equal(chatgate.ActivitySessionCreated, logs[len(logs)-1].Name)
	}

	status, body = api.call(t, fiber.MethodDelete, "/api/session", created.Token, nil)
	assert.Equal(fiber.StatusOK, status)
	assert.Equal(`{"logout":true,"code":200,"errorDescription":null}`, body)
	_, err = api.store.Get(ctx, created.Token)
	assert.Equal(chatgate.ErrSessionNotFound, err)

	status, body = api.call(t, fiber.MethodDelete, "/api/session", created.Token, nil)
	assert.Equal(fiber.StatusUnauthorized, status)
	assert.Equal(`{"logout":null,"code":401,"errorDescription":"Unauthorized"}`, body)
}

func TestRequestAuthorizer(t *testing.T) {
	assert := assert.New(t)
	api := newTestApi(nil)
	s := api.login(t, 3)

	type Case struct {
		Header     string
		StatusCode int
		Body       string
	}
	cases := []Case{
		{Header: "", StatusCode: 401, Body: `{"session":null,"code":401,"errorDescription":"Unauthorized"}`},
		{Header: "Basic abc", StatusCode: 400, Body: `{"session":null,"code":400,"errorDescription":"invalid auth type"}`},
		{Header: "Bearer unexisting_session_token", StatusCode: 401,
			Body: `{"session":null,"code":401,"errorDescription":"Unauthorized"}`},
		{Header: "Bearer " + s.Id, StatusCode: 401,
			Body: `{"session":null,"code":401,"errorDescription":"Unauthorized"}`},
		{Header: "Bearer " + s.Token, StatusCode: 200},
	}
	for _, c := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/api/session", nil)
		if c.Header != "" {
			req.Header.Set(fiber.HeaderAuthorization, c.Header)
		}
		resp, err := api.app.Test(req)
		if !assert.NoError(err) {
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(c.StatusCode, resp.StatusCode, c.Header)
		if c.Body != "" {
			assert.Equal(c.Body, string(body), c.Header)
		}
	}
}

func TestRequestAuthorizerStoreFailure(t *testing.T) {
	assert := assert.New(t)
	manager := &session.Manager{Store: mock.SessionStore{
		GetFn: func(ctx context.Context, token string) (chatgate.Session, error) {
			return chatgate.Session{}, errors.New("dial tcp: connection refused")
		},
	}}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	(&SessionController{Sessions: manager}).InstallTo(func(*fiber.Ctx) error { return nil },
		RequestAuthorizer(manager), app.Group(Prefix))

	req := httptest.NewRequest(fiber.MethodGet, "/api/session", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer abc")
	resp, err := app.Test(req)
	if !assert.NoError(err) {
		return
	}
	assert.Equal(fiber.StatusInternalServerError, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(`{"session":null,"code":500,"errorDescription":"Internal Server Error"}`, string(body))
}

func TestRequestAuthorizerRejectsSessionRevokedBeforeRefresh(t *testing.T) {
	assert := assert.New(t)
	revoked := chatgate.Session{Id: "id-s1", Token: "s1", UserId: 1, ExpiresAt: time.Now().Add(time.Hour)}
	manager := &session.Manager{Store: mock.SessionStore{
		GetFn: func(ctx context.Context, token string) (chatgate.Session, error) {
			return revoked, nil
		},
		// deleted by a concurrent logout everywhere
		UpdateFn: func(ctx context.Context, session chatgate.Session) error {
			return chatgate.ErrSessionNotFound
		},
	}}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	(&SessionController{Sessions: manager}).InstallTo(func(*fiber.Ctx) error { return nil },
		RequestAuthorizer(manager), app.Group(Prefix))

	req := httptest.NewRequest(fiber.MethodGet, "/api/session", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer s1")
	resp, err := app.Test(req)
	if assert.NoError(err) {
		assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)
	}
}
