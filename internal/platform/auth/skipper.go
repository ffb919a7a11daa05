package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that bypass authentication: health checks
// and the account endpoints that hand out tokens.
var publicPaths = map[string]bool{
	"/health":          true,
	"/health/db":       true,
	"/api/auth/signup": true,
	"/api/auth/login":  true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is served without a bearer token.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
