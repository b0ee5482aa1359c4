package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTService emite y valida los access tokens que identifican al viewer.
type JWTService struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
}

type Claims struct {
	UserID    string `json:"uid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

var (
	ErrJWTInvalid = errors.New("jwt invalid")
	ErrJWTExpired = errors.New("jwt expired")
)

const accessTokenType = "access"

func NewJWTService(secret string, accessTTL time.Duration) *JWTService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &JWTService{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		issuer:    "contributor-app",
	}
}

// IssueAccessToken firma un token para el viewer; lo usan el CLI y los tests.
func (s *JWTService) IssueAccessToken(viewerID string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrJWTInvalid
	}
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return "", ErrJWTInvalid
	}
	now := time.Now().UTC()
	claims := Claims{
		UserID:    viewerID,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   viewerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) ParseAccessToken(accessToken string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, ErrJWTInvalid
	}
	if strings.TrimSpace(accessToken) == "" {
		return Claims{}, ErrJWTInvalid
	}
	claims, err := s.parseToken(accessToken)
	if err != nil {
		return Claims{}, err
	}
	if claims.TokenType != accessTokenType {
		return Claims{}, ErrJWTInvalid
	}
	if !s.isValidClaims(claims) {
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}

func (s *JWTService) parseToken(tokenString string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrJWTExpired
		}
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}

func (s *JWTService) isValidClaims(claims Claims) bool {
	if strings.TrimSpace(claims.UserID) == "" {
		return false
	}
	if claims.Subject != claims.UserID {
		return false
	}
	return strings.TrimSpace(claims.Issuer) == s.issuer
}
