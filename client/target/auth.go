package target

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"
)

const (
	ctxClaimsKey = "stackload_claims"
	ctxTokenKey  = "stackload_token"
	issuer       = "stackload-target"
)

var errTokenRevoked = errors.New("token revoked")

// Claims is the payload of an issued token.
type Claims struct {
	UserID      string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) issueToken(user UserRecord) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.FirstName + " " + user.LastName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ksuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   user.ID,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", err
	}

	s.tokens.Set(token, &claims, s.cfg.TokenTTL)

	return token, nil
}

// validateToken checks the deny-list, the signature and the token cache in
// that order.
func (s *Server) validateToken(token string) (*Claims, error) {
	if _, denied := s.denied.Get(token); denied {
		return nil, errTokenRevoked
	}

	claims := &Claims{}

	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	cached, found := s.tokens.Get(token)
	if !found {
		return nil, fmt.Errorf("token %s not in cache", claims.ID)
	}

	return cached.(*Claims), nil
}

func extractBearerToken(ctx *gin.Context) (string, bool) {
	authHeader := ctx.GetHeader("Authorization")

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}

	return token, true
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, ok := extractBearerToken(ctx)
		if !ok {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})

			return
		}

		claims, err := s.validateToken(token)
		if err != nil {
			_ = ctx.Error(err)
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})

			return
		}

		ctx.Set(ctxClaimsKey, claims)
		ctx.Set(ctxTokenKey, token)
		ctx.Next()
	}
}

func (s *Server) login(ctx *gin.Context) {
	if ctx.ContentType() != gin.MIMEJSON {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "content type must be " + gin.MIMEJSON})

		return
	}

	var req loginRequest

	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})

		return
	}

	user, ok := s.users.byEmail(req.Email)
	if !ok || subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.Password)) != 1 {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "wrong credentials provided"})

		return
	}

	token, err := s.issueToken(user)
	if err != nil {
		_ = ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token could not be issued"})

		return
	}

	s.logger.Info("User logged in", slog.String("email", user.Email), slog.String("guid", ctx.GetString(ctxGUIDKey)))

	ctx.JSON(http.StatusOK, gin.H{"data": gin.H{"user": user, "token": token}})
}

func (s *Server) logout(ctx *gin.Context) {
	token := ctx.GetString(ctxTokenKey)
	claims := ctx.MustGet(ctxClaimsKey).(*Claims)

	ttl := s.cfg.TokenTTL
	if claims.ExpiresAt != nil {
		ttl = max(time.Until(claims.ExpiresAt.Time), time.Second)
	}

	s.denied.Set(token, struct{}{}, ttl)
	s.tokens.Delete(token)

	s.logger.Info("User logged out", slog.String("email", claims.Email), slog.String("guid", ctx.GetString(ctxGUIDKey)))

	ctx.JSON(http.StatusOK, gin.H{"success": true, "data": nil})
}
