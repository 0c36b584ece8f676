package services

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/framewell/studio-qc-backend/internal/platform/ctxutil"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

// AuthService verifies portal-issued access tokens and attaches the caller's
// identity to the request context. Token issuance lives in the portal; this
// service only validates.
type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type authService struct {
	log          *logger.Logger
	jwtSecretKey string
}

func NewAuthService(baseLog *logger.Logger, jwtSecretKey string) AuthService {
	return &authService{
		log:          baseLog.With("service", "AuthService"),
		jwtSecretKey: jwtSecretKey,
	}
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(as.jwtSecretKey), nil
	})
	if err != nil || !token.Valid {
		return ctx, fmt.Errorf("invalid token: %w", err)
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return ctx, fmt.Errorf("invalid subject claim")
	}
	role, _ := claims["role"].(string)

	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{
		UserID: userID,
		Role:   role,
	}), nil
}

// WorkerAuthenticator gates the machine-to-machine worker endpoints. The
// external deep-analysis worker holds a static shared secret.
type WorkerAuthenticator interface {
	Verify(secret string) bool
}

type workerAuthenticator struct {
	secret string
}

func NewWorkerAuthenticator(secret string) WorkerAuthenticator {
	return &workerAuthenticator{secret: secret}
}

func (wa *workerAuthenticator) Verify(secret string) bool {
	if wa.secret == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(wa.secret), []byte(secret)) == 1
}
