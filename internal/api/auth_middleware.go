// internal/api/auth_middleware.go
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryboardStudio/internal/auth"
	"github.com/Corphon/StoryboardStudio/internal/config"
	"github.com/Corphon/StoryboardStudio/internal/services"
	"github.com/Corphon/StoryboardStudio/internal/utils"
)

const (
	sessionIDKey = "session_id"
	sessionKey   = "session"
)

// NewTokenConfig derives the session token settings from cfg. Without a
// configured secret debug mode uses a fixed key so tokens survive restarts,
// otherwise a random key is generated.
func NewTokenConfig(cfg *config.Config, logger *utils.Logger) (*auth.TokenConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	if logger == nil {
		logger = utils.GetLogger()
	}

	var secret []byte
	switch {
	case cfg.SessionSecret != "":
		secret = []byte(cfg.SessionSecret)
	case cfg.DebugMode:
		secret = []byte("storyboard_dev_session_key_only_")
		logger.Warn("Using the fixed development session key", map[string]interface{}{
			"hint": "set SESSION_SECRET in production",
		})
	default:
		key, err := auth.GenerateSecureKey(32)
		if err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
		secret = key
	}

	// HS256 keys are normalized to 256 bits
	if len(secret) < 32 {
		padded := make([]byte, 32)
		copy(padded, secret)
		secret = padded
	} else if len(secret) > 32 {
		secret = secret[:32]
	}

	return &auth.TokenConfig{
		Secret:     secret,
		Expiration: cfg.SessionTTL() + time.Hour,
	}, nil
}

// SessionAuth resolves the session named by the bearer token. The websocket
// route cannot send headers from browsers so ?token= is accepted as well.
func SessionAuth(sessions *services.SessionService, tokens *auth.TokenConfig) gin.HandlerFunc {
	responses := NewResponseHelper()
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			responses.Error(c, http.StatusUnauthorized, ErrorTokenMissing, "session token required")
			c.Abort()
			return
		}

		claims, err := auth.ParseToken(token, tokens)
		if err != nil {
			code := ErrorTokenInvalid
			if errors.Is(err, auth.ErrExpiredToken) {
				code = ErrorTokenExpired
			}
			responses.Error(c, http.StatusUnauthorized, code, err.Error())
			c.Abort()
			return
		}

		session, err := sessions.Get(claims.SessionID)
		if err != nil {
			responses.NotFound(c, "session")
			c.Abort()
			return
		}

		c.Set(sessionIDKey, session.ID)
		c.Set(sessionKey, session)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

// currentSession returns the session set by SessionAuth
func currentSession(c *gin.Context) *services.EditorSession {
	value, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	session, _ := value.(*services.EditorSession)
	return session
}
