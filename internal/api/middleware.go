package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/hexfall/ipavault/internal/app"
)

// AccessToken derives the shared token from the configured password. Clients
// present the SHA-256 of the password, never the password itself.
func AccessToken(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// passwordGate requires the access token on every /api route except the auth
// pair, which must stay reachable to bootstrap a session.
func passwordGate(app *app.Context) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if app.Config.AccessPassword == "" {
				return next(c)
			}

			path := c.Request().URL.Path
			if !strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/api/auth/") {
				return next(c)
			}

			token := c.Request().Header.Get("X-Access-Token")
			if token == "" {
				// SSE connections can't set headers
				token = c.QueryParam("token")
			}

			expected := AccessToken(app.Config.AccessPassword)
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			return next(c)
		}
	}
}

// httpsRedirect bounces plain-HTTP traffic to the public base URL when one
// with an https scheme is configured. Proxies tell us the original scheme
// via X-Forwarded-Proto.
func httpsRedirect(app *app.Context) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if app.Config.DisableHTTPSRedirect {
				return next(c)
			}
			base := app.Config.PublicBaseURL
			if !strings.HasPrefix(base, "https://") {
				return next(c)
			}
			if c.Request().Header.Get("X-Forwarded-Proto") != "http" {
				return next(c)
			}
			target := strings.TrimSuffix(base, "/") + c.Request().RequestURI
			return c.Redirect(http.StatusMovedPermanently, target)
		}
	}
}
