package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/security"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAuthDisabled       = errors.New("admin authentication is not configured")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// AuthResult holds authentication result data
type AuthResult struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthService handles admin login and token checks.
type AuthService struct {
	passwordHash []byte
	jwtSecret    string
	tokenTTL     time.Duration
	logger       *logging.ChanneledLogger
	clock        clock
}

// NewAuthService creates the admin authenticator. An empty hash or secret
// disables admin access.
func NewAuthService(passwordHash, jwtSecret string, tokenTTL time.Duration, logger *logging.ChanneledLogger, opts ...Option) *AuthService {
	return &AuthService{
		passwordHash: []byte(passwordHash),
		jwtSecret:    jwtSecret,
		tokenTTL:     tokenTTL,
		logger:       logger,
		clock:        newClock(opts),
	}
}

// Enabled reports whether admin login is possible.
func (s *AuthService) Enabled() bool {
	return len(s.passwordHash) > 0 && s.jwtSecret != ""
}

// Login checks the admin password and issues a signed token.
func (s *AuthService) Login(password string) (*AuthResult, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		s.logger.Auth().Warn("Admin login rejected")
		return nil, ErrInvalidCredentials
	}

	now := s.clock.Now()
	token, err := security.GenerateAdminToken(s.jwtSecret, now, s.tokenTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Auth().Info("Admin login succeeded")
	return &AuthResult{
		Token:     token,
		Role:      security.RoleAdmin,
		ExpiresAt: now.Add(s.tokenTTL),
	}, nil
}

// ValidateToken accepts only unexpired admin tokens signed with our secret.
func (s *AuthService) ValidateToken(token string) error {
	if !s.Enabled() {
		return ErrAuthDisabled
	}
	claims, err := security.ValidateJWT(token, s.jwtSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !security.IsAdminClaims(claims) {
		return ErrInvalidToken
	}
	return nil
}
