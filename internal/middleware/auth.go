package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errInvalidToken = errors.New("invalid token")

// parseBearer validates an "Authorization: Bearer <jwt>" header and returns
// the subject and role claims.
func parseBearer(header, secret string) (uuid.UUID, string, error) {
	token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, "", errInvalidToken
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, "", errInvalidToken
	}
	role, _ := claims["role"].(string)
	return userID, role, nil
}

func hasBearer(c *gin.Context) bool {
	return strings.HasPrefix(c.GetHeader("Authorization"), "Bearer ")
}

// AuthMiddleware requires a valid signed-in user.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !hasBearer(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userID, role, err := parseBearer(c.GetHeader("Authorization"), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userIDKey, userID)
		c.Set(userRoleKey, role)
		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserRole(c) != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) uuid.UUID {
	id, _ := c.Get(userIDKey)
	uid, _ := id.(uuid.UUID)
	return uid
}

func GetUserRole(c *gin.Context) string {
	role, _ := c.Get(userRoleKey)
	r, _ := role.(string)
	return r
}
