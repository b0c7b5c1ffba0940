package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/storefront/internal/model"
)

const (
	userIDKey     = "userID"
	userRoleKey   = "userRole"
	ownerKey      = "owner"
	guestKey      = "guestSessionID"
	SessionHeader = "X-Session-ID"
	SessionCookie = "cart_session"

	sessionCookieMaxAge = 30 * 24 * 60 * 60
)

// Owner resolves who the cart belongs to. A valid bearer token makes the
// caller a user; otherwise the session id from the X-Session-ID header or
// the cart_session cookie identifies a guest, and a fresh one is issued when
// neither is present. A bearer token that fails validation is rejected.
//
// The guest session id is kept even for signed-in callers so that login can
// merge the guest cart.
func Owner(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetHeader(SessionHeader)
		if sessionID == "" {
			sessionID, _ = c.Cookie(SessionCookie)
		}
		if sessionID != "" {
			c.Set(guestKey, sessionID)
		}

		if hasBearer(c) {
			userID, role, err := parseBearer(c.GetHeader("Authorization"), secret)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.Set(userIDKey, userID)
			c.Set(userRoleKey, role)
			c.Set(ownerKey, model.UserOwner(userID))
			c.Next()
			return
		}

		if sessionID == "" {
			sessionID = uuid.NewString()
			c.Set(guestKey, sessionID)
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, sessionID, sessionCookieMaxAge, "/", "", false, true)
		c.Header(SessionHeader, sessionID)
		c.Set(ownerKey, model.GuestOwner(sessionID))
		c.Next()
	}
}

// GetOwner returns the owner resolved by Owner.
func GetOwner(c *gin.Context) model.Owner {
	v, _ := c.Get(ownerKey)
	o, _ := v.(model.Owner)
	return o
}

// GuestSessionID returns the caller's guest session id, if any.
func GuestSessionID(c *gin.Context) string {
	v, _ := c.Get(guestKey)
	s, _ := v.(string)
	return s
}
