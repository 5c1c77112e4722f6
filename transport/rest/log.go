package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// LogHandler logs every handled request with its status and latency.
func LogHandler() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		start := time.Now()
		err := ctx.Next()
		if err != nil {
			if handlerErr := ctx.App().ErrorHandler(ctx, err); handlerErr != nil {
				_ = ctx.SendStatus(fiber.StatusInternalServerError)
			}
		}
		requestLog(ctx).
			WithField("status", ctx.Response().StatusCode()).
			WithField("latency", time.Since(start).String()).
			Debugln("Request handled.")
		return nil
	}
}
