package rest

import (
	"fmt"

	"github.com/buzkaaclicker/chatgate"
	"github.com/gofiber/fiber/v2"
)

const maxActivitiesLimit = 100

type ActivityController struct {
	Store chatgate.ActivityStore
}

func (c *ActivityController) InstallTo(guard fiber.Handler, authorizationHandler fiber.Handler, router fiber.Router) {
	router.Get("/activities", combineHandlers(guard, authorizationHandler, c.serveLastActivity))
}

func (c *ActivityController) serveLastActivity(ctx *fiber.Ctx) error {
	session, err := currentSession(ctx)
	if err != nil {
		return err
	}
	beforeId := int64(ctx.QueryInt("before", -1))
	limit := ctx.QueryInt("limit", 20)
	if limit <= 0 || limit > maxActivitiesLimit {
		return fiber.NewError(fiber.StatusBadRequest, "invalid limit")
	}

	logs, err := c.Store.ByUserId(ctx.Context(), session.UserId, beforeId, int32(limit))
	if err != nil {
		return fmt.Errorf("get logs by user id: %w", err)
	}

	type Log struct {
		Id        int64                  `json:"id"`
		CreatedAt int64                  `json:"createdAt"`
		Name      string                 `json:"name"`
		Data      map[string]interface{} `json:"data,omitempty"`
	}
	mapped := make([]Log, len(logs))
	for i, log := range logs {
		mapped[i] = Log{Id: log.Id, CreatedAt: log.CreatedAt.Unix(), Name: log.Name, Data: log.Data}
	}
	return respond(ctx, fiber.StatusOK, mapped)
}
