// Package rest serves the control-plane HTTP API. Every response uses the
// envelope shape with a field name specific to the route.
package rest

import (
	"fmt"

	"github.com/buzkaaclicker/chatgate"
	"github.com/buzkaaclicker/chatgate/admission"
	"github.com/buzkaaclicker/chatgate/envelope"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const Prefix = "/api"

// Fields maps every API route to the name of its response field.
var Fields = envelope.Fields{
	envelope.RouteKey(fiber.MethodPost, Prefix+"/session"):                 "session",
	envelope.RouteKey(fiber.MethodGet, Prefix+"/session"):                  "session",
	envelope.RouteKey(fiber.MethodDelete, Prefix+"/session"):               "logout",
	envelope.RouteKey(fiber.MethodGet, Prefix+"/sessions"):                 "sessions",
	envelope.RouteKey(fiber.MethodDelete, Prefix+"/sessions/other"):        "revoked",
	envelope.RouteKey(fiber.MethodDelete, Prefix+"/sessions/:session_id"):  "revoked",
	envelope.RouteKey(fiber.MethodDelete, Prefix+"/sessions"):              "revoked",
	envelope.RouteKey(fiber.MethodGet, Prefix+"/activities"):               "activities",
	envelope.RouteKey(fiber.MethodPost, Prefix+"/chats"):                   "chat",
	envelope.RouteKey(fiber.MethodPost, Prefix+"/chats/:chat_id/members"):  "member",
	envelope.RouteKey(fiber.MethodPost, Prefix+"/chats/:chat_id/messages"): "message",
	envelope.RouteKey(fiber.MethodGet, Prefix+"/chats/:chat_id/online"):    "online",
	envelope.RouteKey(fiber.MethodGet, Prefix+"/connections"):              "connections",
}

func routeField(ctx *fiber.Ctx) string {
	route := ctx.Route()
	return Fields.Field(route.Method, route.Path)
}

func requestLog(ctx *fiber.Ctx) *logrus.Entry {
	return logrus.
		WithField("remote_addr", ctx.IP()).
		WithField("path", ctx.Path()).
		WithField("z_referer", string(ctx.Request().Header.Peek(fiber.HeaderReferer))).
		WithField("z_user_agent", string(ctx.Request().Header.UserAgent())).
		WithField("z_x_forwared_for", string(ctx.Request().Header.Peek(fiber.HeaderXForwardedFor)))
}

func send(ctx *fiber.Ctx, response envelope.Response) error {
	body, err := envelope.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return ctx.Status(response.Code).Send(body)
}

func respond(ctx *fiber.Ctx, code int, value interface{}) error {
	return send(ctx, envelope.Ok(routeField(ctx), code, value))
}

func ErrorHandler(ctx *fiber.Ctx, err error) error {
	if rejection, ok := admission.AsRejection(err); ok {
		return rejection.Respond(ctx)
	}
	if fe, ok := err.(*fiber.Error); ok {
		return send(ctx, envelope.Fail(routeField(ctx), fe.Code, fe.Message))
	}
	requestLog(ctx).WithError(err).Errorln("Internal server error.")
	// keep internal server errors private. reply with generic error message.
	return send(ctx, envelope.Fail(routeField(ctx), fiber.StatusInternalServerError,
		fiber.ErrInternalServerError.Message))
}

func NotFoundHandler(ctx *fiber.Ctx) error {
	return fiber.ErrNotFound
}

func combineHandlers(handlers ...fiber.Handler) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		for _, handler := range handlers {
			err := handler(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// Api mounts every controller under Prefix.
type Api struct {
	Limiter    *admission.Limiter
	Sessions   Sessions
	Directory  chatgate.Directory
	Activities chatgate.ActivityStore
	Fanout     Fanout
}

func (a *Api) InstallTo(app *fiber.App) {
	guard := func(ctx *fiber.Ctx) error { return nil }
	if a.Limiter != nil {
		guard = a.Limiter.Handler(Fields)
	}
	requestAuthorizer := RequestAuthorizer(a.Sessions)
	router := app.Group(Prefix)

	(&AuthController{Sessions: a.Sessions, Directory: a.Directory}).InstallTo(guard, requestAuthorizer, router)
	(&SessionController{Sessions: a.Sessions}).InstallTo(guard, requestAuthorizer, router)
	(&ChatController{Directory: a.Directory, Fanout: a.Fanout}).InstallTo(guard, requestAuthorizer, router)
	if a.Activities != nil {
		(&ActivityController{Store: a.Activities}).InstallTo(guard, requestAuthorizer, router)
	}
}
