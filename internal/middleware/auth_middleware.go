package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/treasuretrails/payments-backend/pkg/jwt"
)

// ActorContextKey is the key used to store actor information in Gin context
const ActorContextKey = "actor"

// CorrelationIDHeader carries the request correlation id end to end
const CorrelationIDHeader = "X-Correlation-ID"

// ActorContext represents the authenticated caller's information
type ActorContext struct {
	ActorID       string   `json:"actor_id"`
	Role          jwt.Role `json:"role"`
	CorrelationID string   `json:"correlation_id"`
}

// AuthMiddleware creates a middleware that validates service tokens
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Printf("AUTH FAILED: Missing authorization header - Path: %s, IP: %s", c.Request.URL.Path, c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header is required",
				"code":    "MISSING_AUTH_HEADER",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			log.Printf("AUTH FAILED: Invalid auth format - Path: %s, IP: %s", c.Request.URL.Path, c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format. Expected: Bearer <token>",
				"code":    "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Token cannot be empty",
				"code":    "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		claims, err := jwtService.Verify(tokenString)
		if err != nil {
			log.Printf("AUTH FAILED: Invalid token - Path: %s, IP: %s, Error: %v", c.Request.URL.Path, c.ClientIP(), err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "Invalid service token",
				"code":    "INVALID_TOKEN",
			})
			c.Abort()
			return
		}

		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Header(CorrelationIDHeader, correlationID)

		c.Set(ActorContextKey, ActorContext{
			ActorID:       claims.ActorID,
			Role:          claims.Role,
			CorrelationID: correlationID,
		})

		c.Next()
	}
}

// RequireRole creates a middleware that checks if the caller has a required role
func RequireRole(roles ...jwt.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, exists := GetActorContext(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Actor context not found. Auth middleware may not be applied.",
				"code":    "MISSING_ACTOR_CONTEXT",
			})
			c.Abort()
			return
		}

		hasRole := false
		for _, requiredRole := range roles {
			if actor.Role == requiredRole {
				hasRole = true
				break
			}
		}

		if !hasRole {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You don't have permission to access this resource",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GetActorContext retrieves the actor context from Gin context
func GetActorContext(c *gin.Context) (ActorContext, bool) {
	value, exists := c.Get(ActorContextKey)
	if !exists {
		return ActorContext{}, false
	}

	actor, ok := value.(ActorContext)
	if !ok {
		return ActorContext{}, false
	}

	return actor, true
}
