package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront/internal/model"
)

const testSecret = "test-secret"

func init() { gin.SetMode(gin.TestMode) }

func signToken(t *testing.T, sub, role, secret string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub, "role": role, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func ownerRouter(got *model.Owner, guest *string) *gin.Engine {
	r := gin.New()
	r.Use(Owner(testSecret))
	r.GET("/", func(c *gin.Context) {
		*got = GetOwner(c)
		*guest = GuestSessionID(c)
		c.Status(http.StatusOK)
	})
	return r
}

func TestOwner_IssuesGuestSession(t *testing.T) {
	var owner model.Owner
	var guest string
	r := ownerRouter(&owner, &guest)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	issued := w.Header().Get(SessionHeader)
	_, err := uuid.Parse(issued)
	require.NoError(t, err)
	assert.Equal(t, model.GuestOwner(issued), owner)
	assert.Contains(t, w.Header().Get("Set-Cookie"), SessionCookie+"="+issued)
}

func TestOwner_ReusesHeaderOrCookie(t *testing.T) {
	var owner model.Owner
	var guest string
	r := ownerRouter(&owner, &guest)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeader, "from-header")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, model.GuestOwner("from-header"), owner)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "from-cookie"})
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, model.GuestOwner("from-cookie"), owner)
}

func TestOwner_BearerTokenMakesUser(t *testing.T) {
	var owner model.Owner
	var guest string
	r := ownerRouter(&owner, &guest)
	userID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, userID.String(), "customer", testSecret))
	req.Header.Set(SessionHeader, "guest-before-login")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, model.UserOwner(userID), owner)
	assert.Equal(t, "guest-before-login", guest)
}

func TestOwner_RejectsBadToken(t *testing.T) {
	var owner model.Owner
	var guest string
	r := ownerRouter(&owner, &guest)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.NewString(), "customer", "other-secret"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminOnly(t *testing.T) {
	r := gin.New()
	r.GET("/admin", AuthMiddleware(testSecret), AdminOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"customer", signToken(t, uuid.NewString(), "customer", testSecret), http.StatusForbidden},
		{"admin", signToken(t, uuid.NewString(), "admin", testSecret), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthMiddleware_ExposesUserID(t *testing.T) {
	var got uuid.UUID
	var role string
	r := gin.New()
	r.GET("/", AuthMiddleware(testSecret), func(c *gin.Context) {
		got = GetUserID(c)
		role = GetUserRole(c)
		c.Status(http.StatusOK)
	})
	adminID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, adminID.String(), "admin", testSecret))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, adminID, got)
	assert.Equal(t, "admin", role)
}

func TestGetUserID_GuestIsNil(t *testing.T) {
	var got uuid.UUID
	r := gin.New()
	r.Use(Owner(testSecret))
	r.GET("/", func(c *gin.Context) {
		got = GetUserID(c)
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, uuid.Nil, got)
}

func TestMetrics_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Metrics())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusTeapot, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}
