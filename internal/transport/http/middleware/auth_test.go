package middleware_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/runlater/core/internal/transport/http/middleware"
)

const testKey = "middleware-test-secret-32-chars!!"

func init() {
	gin.SetMode(gin.TestMode)
}

// newEngine builds a minimal gin engine with the Auth middleware (HMAC
// path, no JWKS URL) protecting GET /protected. The handler writes the
// organizationID from context so we can assert it was set.
func newEngine() *gin.Engine {
	r := gin.New()
	r.GET("/protected", middleware.Auth("", []byte(testKey)), func(c *gin.Context) {
		orgID, _ := c.Get("organizationID")
		c.String(http.StatusOK, "%v", orgID)
	})
	return r
}

func makeJWT(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return s
}

func TestAuth_MissingHeader_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	newEngine().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_NonBearerScheme_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	newEngine().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_InvalidToken_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	newEngine().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_ExpiredToken_Returns401(t *testing.T) {
	tok := makeJWT(t, []byte(testKey), jwt.MapClaims{
		"org_id": "org_1",
		"exp":    time.Now().Add(-time.Hour).Unix(),
		"iat":    time.Now().Add(-2 * time.Hour).Unix(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	newEngine().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_WrongSigningKey_Returns401(t *testing.T) {
	tok := makeJWT(t, []byte("different-key-that-is-32-chars!!"), jwt.MapClaims{
		"org_id": "org_1",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	newEngine().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuth_ValidToken_SetsOrganizationIDFromClaim(t *testing.T) {
	const orgID = "org_abc"
	tok := makeJWT(t, []byte(testKey), jwt.MapClaims{
		"sub":    "user-1",
		"org_id": orgID,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"iat":    time.Now().Unix(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	newEngine().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != fmt.Sprintf("%v", orgID) {
		t.Errorf("body = %q, want %q", got, orgID)
	}
}

func TestAuth_ValidToken_FallsBackToSubjectWithoutOrgClaim(t *testing.T) {
	const subject = "user-without-org-claim"
	tok := makeJWT(t, []byte(testKey), jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	newEngine().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != subject {
		t.Errorf("body = %q, want %q", got, subject)
	}
}
