// Package admission limits control-plane requests per client with fixed windows.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/buzkaaclicker/chatgate/envelope"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/sirupsen/logrus"
)

const (
	DefaultWindow = 10000 * time.Millisecond
	DefaultMax    = 100

	TooManyRequestsDescription = "Too many requests, please try again later."
)

type Limiter struct {
	Counter Counter
	Window  time.Duration
	Max     int64

	Now func() time.Time
}

type Decision struct {
	Allowed bool
	Count   int64
	ResetAt time.Time
}

func (l *Limiter) window() time.Duration {
	if l.Window > 0 {
		return l.Window
	}
	return DefaultWindow
}

func (l *Limiter) max() int64 {
	if l.Max > 0 {
		return l.Max
	}
	return DefaultMax
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Allow records a request of key and reports whether it fits in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, resetAt, err := l.Counter.Hit(ctx, key, l.window())
	if err != nil {
		return Decision{}, fmt.Errorf("counter hit: %w", err)
	}
	return Decision{Allowed: count <= l.max(), Count: count, ResetAt: resetAt}, nil
}

// Rejection is returned by Handler for requests over the limit.
type Rejection struct {
	Field      string
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	return "too many requests"
}

// Respond writes the 429 envelope shaped for the rejected route.
func (r *Rejection) Respond(ctx *fiber.Ctx) error {
	body, err := envelope.Marshal(envelope.Fail(r.Field, fiber.StatusTooManyRequests, TooManyRequestsDescription))
	if err != nil {
		return err
	}
	seconds := int64(math.Ceil(r.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	ctx.Set(fiber.HeaderRetryAfter, strconv.FormatInt(seconds, 10))
	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return ctx.Status(fiber.StatusTooManyRequests).Send(body)
}

// Handler guards a route. It returns nil for admitted requests and *Rejection
// for rejected ones; the field of the rejection is looked up in fields by the
// route the request matched. Counter failures reject the request with 500.
func (l *Limiter) Handler(fields envelope.Fields) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		// ctx.IP may point into the request buffer, which fasthttp reuses.
		key := utils.CopyString(ctx.IP())
		decision, err := l.Allow(ctx.Context(), key)
		if err != nil {
			return fmt.Errorf("admission of %s: %w", key, err)
		}
		if decision.Allowed {
			return nil
		}

		route := ctx.Route()
		logrus.WithField("ip", key).
			WithField("route", envelope.RouteKey(route.Method, route.Path)).
			WithField("count", decision.Count).
			Debugln("Request rejected by admission window.")
		return &Rejection{
			Field:      fields.Field(route.Method, route.Path),
			RetryAfter: decision.ResetAt.Sub(l.now()),
		}
	}
}

// AsRejection unwraps a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	ok := errors.As(err, &rejection)
	return rejection, ok
}
