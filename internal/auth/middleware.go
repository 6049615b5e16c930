package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/collectiond/internal/tenant"
)

// Middleware authenticates `Authorization: Bearer <token>` and stores the
// principal in the request context. Missing or invalid tokens get 401.
func Middleware(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorized(c, "missing bearer token")
			}

			principal, err := a.Authenticate(c.Request().Context(), token)
			if err != nil {
				return unauthorized(c, "invalid token")
			}

			req := c.Request()
			c.SetRequest(req.WithContext(tenant.WithPrincipal(req.Context(), principal)))
			return next(c)
		}
	}
}

// Principal returns the authenticated principal of the request.
func Principal(c echo.Context) (string, error) {
	return tenant.PrincipalFromContext(c.Request().Context())
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c echo.Context, msg string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="collectiond"`)
	return c.JSON(http.StatusUnauthorized, map[string]any{
		"error": map[string]any{
			"code":    "unauthorized",
			"message": msg,
		},
	})
}
