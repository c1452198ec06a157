package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnauthorized indicates a missing or invalid credential.
var ErrUnauthorized = errors.New("unauthorized")

// Resolver maps a bearer credential to a Principal. A credential equal to
// the configured service secret yields a ServicePrincipal; anything else is
// treated as an end-user token issued by the identity provider and verified
// with the shared HS256 secret.
type Resolver struct {
	serviceSecret []byte
	jwtSecret     []byte
	logger        *zap.Logger
}

func NewResolver(serviceSecret, jwtSecret string, logger *zap.Logger) *Resolver {
	return &Resolver{
		serviceSecret: []byte(serviceSecret),
		jwtSecret:     []byte(jwtSecret),
		logger:        logger,
	}
}

// Resolve authenticates the credential. attributedUser is only consulted
// for service callers: the scheduler has no human session, so the request
// body names the user outcome notifications belong to. A service call
// without one is tolerated but produces unattributed notifications.
func (r *Resolver) Resolve(credential string, attributedUser *uuid.UUID) (Principal, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", ErrUnauthorized)
	}

	if len(r.serviceSecret) > 0 &&
		subtle.ConstantTimeCompare([]byte(credential), r.serviceSecret) == 1 {
		if attributedUser == nil {
			r.logger.Warn("service dispatch without attributed user, notification will be unattributed")
		}
		return ServicePrincipal{Attributed: attributedUser}, nil
	}

	userID, err := r.verifyUserToken(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	return UserPrincipal{ID: userID}, nil
}

func (r *Resolver) verifyUserToken(token string) (uuid.UUID, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return r.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse token: %w", err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, fmt.Errorf("token has no subject")
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not a user id: %w", err)
	}

	return userID, nil
}
