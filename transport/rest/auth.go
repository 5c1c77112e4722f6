package rest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/buzkaaclicker/chatgate"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

const sessionLocalsKey = "session"

type Sessions interface {
	Verify(ctx context.Context, token string) (chatgate.Session, error)
	Refresh(ctx context.Context, session chatgate.Session, ip string, userAgent string) (chatgate.Session, error)
	Create(ctx context.Context, userId chatgate.UserId, ip string, userAgent string) (chatgate.Session, error)
	Delete(ctx context.Context, session chatgate.Session) error
	ListByUser(ctx context.Context, userId chatgate.UserId) ([]chatgate.Session, error)
	RevokeById(ctx context.Context, userId chatgate.UserId, sessionId string) error
	RevokeAllExcept(ctx context.Context, userId chatgate.UserId, keepToken string) ([]string, error)
}

// RequestAuthorizer accepts requests carrying "Authorization: Bearer <session token>"
// of a live session and refreshes that session. Session store failures fail
// the request with 500.
func RequestAuthorizer(sessions Sessions) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		auth := ctx.Get(fiber.HeaderAuthorization)
		if auth == "" {
			return fiber.ErrUnauthorized
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			return fiber.NewError(fiber.StatusBadRequest, "invalid auth type")
		}
		token := strings.TrimPrefix(auth, "Bearer ")

		session, err := sessions.Verify(ctx.Context(), token)
		if err != nil {
			if chatgate.IsSessionInvalid(err) {
				requestLog(ctx).WithField("reason", err.Error()).Debugln("Unauthorized access.")
				return fiber.ErrUnauthorized
			}
			return fmt.Errorf("verify session: %w", err)
		}
		session, err = sessions.Refresh(ctx.Context(), session, utils.CopyString(ctx.IP()),
			string(ctx.Request().Header.UserAgent()))
		if err != nil {
			if chatgate.IsSessionInvalid(err) {
				requestLog(ctx).WithField("reason", err.Error()).Debugln("Session revoked during refresh.")
				return fiber.ErrUnauthorized
			}
			return fmt.Errorf("refresh session: %w", err)
		}

		requestLog(ctx).
			WithField("user_id", session.UserId).
			Debugln("Authorized access.")

		ctx.Locals(sessionLocalsKey, session)
		return nil
	}
}

func currentSession(ctx *fiber.Ctx) (chatgate.Session, error) {
	session, ok := ctx.Locals(sessionLocalsKey).(chatgate.Session)
	if !ok {
		return chatgate.Session{}, fiber.ErrUnauthorized
	}
	return session, nil
}

type AuthController struct {
	Sessions  Sessions
	Directory chatgate.Directory
}

func (c *AuthController) InstallTo(guard fiber.Handler, requestAuthorizer fiber.Handler, router fiber.Router) {
	router.Post("/session", combineHandlers(guard, c.serveLogin))
	router.Delete("/session", combineHandlers(guard, requestAuthorizer, c.serveLogout))
}

func (c *AuthController) serveLogin(ctx *fiber.Ctx) error {
	body := struct {
		ApiKey string `json:"apiKey"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		requestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if body.ApiKey == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid api key")
	}

	userId, err := c.Directory.ResolveUserId(ctx.Context(), body.ApiKey)
	if err != nil {
		if errors.Is(err, chatgate.ErrUserNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid api key")
		}
		return fmt.Errorf("resolve user id: %w", err)
	}

	session, err := c.Sessions.Create(ctx.Context(), userId, utils.CopyString(ctx.IP()),
		string(ctx.Request().Header.UserAgent()))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	requestLog(ctx).WithField("user_id", userId).Infoln("Session created.")

	return respond(ctx, fiber.StatusCreated, map[string]interface{}{
		"token":     session.Token,
		"id":        session.Id,
		"userId":    session.UserId,
		"expiresAt": session.ExpiresAt.Unix(),
	})
}

func (c *AuthController) serveLogout(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	if err := c.Sessions.Delete(ctx.Context(), session); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return respond(ctx, fiber.StatusOK, true)
}
