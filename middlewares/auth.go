package middlewares

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "

	localUserID      = "userID"
	localWorkspaceID = "workspaceID"
)

// Claims is our custom JWT payload (subject=userID, plus the workspace).
type Claims struct {
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

var (
	secretMu  sync.RWMutex
	jwtSecret []byte
	tokenTTL  = 24 * time.Hour
)

// ConfigureJWT sets the HS256 signing secret and token lifetime.
func ConfigureJWT(secret string, ttl time.Duration) {
	secretMu.Lock()
	defer secretMu.Unlock()
	jwtSecret = []byte(secret)
	if ttl > 0 {
		tokenTTL = ttl
	}
}

func signingSecret() ([]byte, error) {
	secretMu.RLock()
	defer secretMu.RUnlock()
	if len(jwtSecret) == 0 {
		return nil, errors.New("JWT secret not configured")
	}
	return jwtSecret, nil
}

// IsAuthenticatedHeader validates a Bearer token, enforces HS256, and populates c.Locals("userID","workspaceID").
func IsAuthenticatedHeader() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret, err := signingSecret()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "server auth not configured")
		}

		h := c.Get(authHeader)
		if h == "" || !strings.HasPrefix(strings.ToLower(h), strings.ToLower(bearerPrefix)) {
			return fiber.NewError(fiber.StatusUnauthorized, "missing/invalid Authorization header")
		}
		raw := strings.TrimSpace(h[len(bearerPrefix):])
		if raw == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid bearer token")
		}

		parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		var claims Claims
		token, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}
		if strings.TrimSpace(claims.Subject) == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "token missing subject")
		}
		if strings.TrimSpace(claims.WorkspaceID) == "" {
			return fiber.NewError(fiber.StatusForbidden, "no workspace associated with this account")
		}

		c.Locals(localUserID, claims.Subject)
		c.Locals(localWorkspaceID, claims.WorkspaceID)

		return c.Next()
	}
}

// GenerateJWT signs a new HS256 token for the given user & workspace.
func GenerateJWT(userID, workspaceID string) (string, error) {
	secret, err := signingSecret()
	if err != nil {
		return "", err
	}
	secretMu.RLock()
	ttl := tokenTTL
	secretMu.RUnlock()

	now := time.Now()
	claims := &Claims{
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// WorkspaceID returns the authenticated workspace, or "" on public routes.
func WorkspaceID(c *fiber.Ctx) string {
	ws, _ := c.Locals(localWorkspaceID).(string)
	return ws
}

// UserID returns the authenticated user, or "" on public routes.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}
