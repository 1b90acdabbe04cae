package profile

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/auth"
)

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller resolved by CallerMiddleware.
func CallerFrom(ctx context.Context) (Caller, error) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || c.ID == "" {
		return Caller{}, apperr.Unauthenticated("no authenticated caller")
	}
	return c, nil
}

// CallerMiddleware resolves the caller's role. A role claim on the token wins;
// otherwise the role is read from the stored profile, so identities from an
// external provider work once their profile exists. The resolved role is
// written back so auth.RequireRole sees it.
func CallerMiddleware(svc *Service, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}
			ctx := c.Request().Context()
			uid := auth.UserIDFromContext(ctx)
			if uid == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing caller identity")
			}

			caller := Caller{ID: uid}
			for _, r := range auth.RolesFromContext(ctx) {
				if role, ok := ParseRole(r); ok {
					caller.Role = role
					break
				}
			}
			if caller.Role == "" {
				p, err := svc.Get(ctx, uid)
				switch {
				case err == nil:
					caller.Role = p.Role
				case errors.Is(err, apperr.ErrNotFound):
					// No profile yet; only POST /profiles/me can succeed.
				default:
					return apperr.ToHTTP(c, err)
				}
			}

			ctx = WithCaller(ctx, caller)
			if caller.Role != "" {
				ctx = auth.WithIdentity(ctx, caller.ID, []string{string(caller.Role)})
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
