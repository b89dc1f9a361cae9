package middleware

import (
	"errors"
	"fmt"
	"strings"

	"xpsocial/pkg/models"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const viewerKey = "viewer"

var ErrNoSubject = errors.New("token has no subject")

// ParseToken validates an HS256 token and returns the viewer it identifies.
// The user id is read from "sub", falling back to a string "user_id" claim.
func ParseToken(secret, tokenStr string) (models.Viewer, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.MapClaims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Viewer{}, fmt.Errorf("parse token: %w", err)
	}

	claims := token.Claims.(*jwt.MapClaims)
	id, _ := claims.GetSubject()
	if id == "" {
		id, _ = (*claims)["user_id"].(string)
	}
	if id == "" {
		return models.Viewer{}, ErrNoSubject
	}
	username, _ := (*claims)["username"].(string)
	return models.Viewer{ID: id, Username: username}, nil
}

// Auth rejects requests without a valid bearer token.
func Auth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := bearer(c)
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
		}
		viewer, err := ParseToken(secret, tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals(viewerKey, viewer)
		return c.Next()
	}
}

// OptionalAuth attaches the viewer when a valid token is present and lets the
// request through either way.
func OptionalAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tokenStr := bearer(c); tokenStr != "" {
			if viewer, err := ParseToken(secret, tokenStr); err == nil {
				c.Locals(viewerKey, viewer)
			}
		}
		return c.Next()
	}
}

// WSAuth guards the websocket upgrade. The token may come from the "token"
// query parameter since browsers cannot set headers on the upgrade request.
func WSAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		tokenStr := c.Query("token")
		if tokenStr == "" {
			tokenStr = bearer(c)
		}
		if tokenStr != "" {
			if viewer, err := ParseToken(secret, tokenStr); err == nil {
				c.Locals(viewerKey, viewer)
			}
		}
		return c.Next()
	}
}

// ViewerFrom returns the viewer stored by the auth middlewares, or the zero
// viewer for anonymous requests.
func ViewerFrom(c *fiber.Ctx) models.Viewer {
	v, _ := c.Locals(viewerKey).(models.Viewer)
	return v
}

// ViewerFromConn is ViewerFrom for an upgraded websocket connection.
func ViewerFromConn(c *websocket.Conn) models.Viewer {
	v, _ := c.Locals(viewerKey).(models.Viewer)
	return v
}

func bearer(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
