package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devasignhq/contributor-app/internal/service"
)

func protectedRouter(jwtSvc *service.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := func(c *gin.Context) {
		claims, ok := GetAuthClaims(c)
		if !ok || claims.UserID != "dev" {
			c.Status(http.StatusUnauthorized)
			return
		}
		c.Status(http.StatusOK)
	}
	r.GET("/protected", JWTAuthMiddleware(jwtSvc), handler)
	r.POST("/protected", JWTAuthMiddleware(jwtSvc), handler)
	return r
}

func TestJWTAuthMiddleware_AllowsValidAccessToken(t *testing.T) {
	jwtSvc := service.NewJWTService("secret", 15*time.Minute)
	token, err := jwtSvc.IssueAccessToken("dev")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protectedRouter(jwtSvc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestJWTAuthMiddleware_QueryTokenOnlyForGet(t *testing.T) {
	jwtSvc := service.NewJWTService("secret", 15*time.Minute)
	token, err := jwtSvc.IssueAccessToken("dev")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	r := protectedRouter(jwtSvc)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected?access_token="+token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for GET, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/protected?access_token="+token, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for POST, got %d", rec.Code)
	}
}

func TestJWTAuthMiddleware_RejectsMissingToken(t *testing.T) {
	rec := httptest.NewRecorder()
	protectedRouter(service.NewJWTService("secret", 15*time.Minute)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTAuthMiddleware_RejectsForeignSecret(t *testing.T) {
	token, err := service.NewJWTService("other", 15*time.Minute).IssueAccessToken("dev")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protectedRouter(service.NewJWTService("secret", 15*time.Minute)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
