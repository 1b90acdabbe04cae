package middleware

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/platform/auth"
)

const maxStack = 4096

// Recovery turns a handler panic into a 500 and logs it with the caller that
// triggered it. A panic after a websocket upgrade or a written response only
// logs, since nothing more can be sent.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				stack := make([]byte, maxStack)
				stack = stack[:runtime.Stack(stack, false)]

				req := c.Request()
				ctx := req.Context()
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("user_id", auth.UserIDFromContext(ctx)).
					Str("role", strings.Join(auth.RolesFromContext(ctx), ",")).
					Str("method", req.Method).
					Str("route", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack).
					Msg("handler panicked")

				if c.Response().Committed {
					return
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
