package rest

import (
	"errors"
	"fmt"

	"github.com/buzkaaclicker/chatgate"
	"github.com/gofiber/fiber/v2"
)

type SessionController struct {
	Sessions Sessions
}

func (c *SessionController) InstallTo(guard fiber.Handler, requestAuthorizer fiber.Handler, router fiber.Router) {
	router.Get("/session", combineHandlers(guard, requestAuthorizer, c.serveCurrentSession))
	router.Get("/sessions", combineHandlers(guard, requestAuthorizer, c.serveSessions))
	router.Delete("/sessions/other", combineHandlers(guard, requestAuthorizer, c.serveDeleteOtherSessions))
	router.Delete("/sessions/:session_id", combineHandlers(guard, requestAuthorizer, c.serveDeleteSession))
	router.Delete("/sessions", combineHandlers(guard, requestAuthorizer, c.serveDeleteAllSessions))
}

// SessionMeta describes a session without giving access to it. Id is the
// public session id, never the token.
type SessionMeta struct {
	Id             string `json:"id"`
	Ip             string `json:"ip"`
	UserAgent      string `json:"userAgent"`
	CreatedAt      int64  `json:"createdAt"`
	LastAccessedAt int64  `json:"lastAccessedAt"`
	ExpiresAt      int64  `json:"expiresAt"`
	Current        bool   `json:"current"`
}

func sessionMeta(session chatgate.Session, currentId string) SessionMeta {
	return SessionMeta{
		Id:             session.Id,
		Ip:             session.Ip,
		UserAgent:      session.UserAgent,
		CreatedAt:      session.CreatedAt.Unix(),
		LastAccessedAt: session.LastAccessedAt.Unix(),
		ExpiresAt:      session.ExpiresAt.Unix(),
		Current:        session.Id == currentId,
	}
}

func (c *SessionController) serveCurrentSession(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	return respond(ctx, fiber.StatusOK, sessionMeta(session, session.Id))
}

func (c *SessionController) serveSessions(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}

	activeSessions, err := c.Sessions.ListByUser(ctx.Context(), session.UserId)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	metas := make([]SessionMeta, len(activeSessions))
	for i, s := range activeSessions {
		metas[i] = sessionMeta(s, session.Id)
	}
	return respond(ctx, fiber.StatusOK, metas)
}

func (c *SessionController) serveDeleteOtherSessions(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	revoked, err := c.Sessions.RevokeAllExcept(ctx.Context(), session.UserId, session.Token)
	if err != nil {
		return fmt.Errorf("revoke other sessions: %w", err)
	}
	return respond(ctx, fiber.StatusOK, len(revoked))
}

func (c *SessionController) serveDeleteSession(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	err = c.Sessions.RevokeById(ctx.Context(), session.UserId, ctx.Params("session_id"))
	if err != nil {
		if errors.Is(err, chatgate.ErrSessionNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "session not found")
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	return respond(ctx, fiber.StatusOK, 1)
}

func (c *SessionController) serveDeleteAllSessions(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	revoked, err := c.Sessions.RevokeAllExcept(ctx.Context(), session.UserId, "")
	if err != nil {
		return fmt.Errorf("revoke all sessions: %w", err)
	}
	requestLog(ctx).
		WithField("user_id", session.UserId).
		WithField("revoked", len(revoked)).
		Infoln("Logged out everywhere.")
	return respond(ctx, fiber.StatusOK, len(revoked))
}
