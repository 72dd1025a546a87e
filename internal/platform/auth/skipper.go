package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that bypass authentication. Infrastructure
// endpoints plus the tokenized patient surface, which authorizes by
// invitation token instead of credentials.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

const publicAPIPrefix = "/api/public/"

// AuthSkipper returns true for requests whose path should skip
// authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}

// IsPublicPath reports whether the given path bypasses the admin auth
// middleware.
func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, publicAPIPrefix)
}
