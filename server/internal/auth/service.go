package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultAccessTTL is the lifetime of access tokens (900 seconds)
	DefaultAccessTTL = 15 * time.Minute
	// DefaultRefreshTTL is the lifetime of refresh tokens
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultIssuer is the "iss" claim of access tokens
	DefaultIssuer = "sen-alerte"

	bcryptCost = 12
)

// AccessClaims are the identity claims carried by an access token
type AccessClaims struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      Role   `json:"role"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// AuthService signs and verifies access tokens and handles secrets
type AuthService struct {
	secretKey []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// ServiceOption configures an AuthService
type ServiceOption func(*AuthService)

// WithAccessTTL overrides the access token lifetime
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *AuthService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithIssuer overrides the issuer claim
func WithIssuer(issuer string) ServiceOption {
	return func(s *AuthService) {
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) ServiceOption {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAuthService creates a new AuthService
func NewAuthService(secretKey []byte, opts ...ServiceOption) *AuthService {
	s := &AuthService{
		secretKey: secretKey,
		issuer:    DefaultIssuer,
		accessTTL: DefaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccessTTL returns the configured access token lifetime
func (s *AuthService) AccessTTL() time.Duration {
	return s.accessTTL
}

// Now returns the service clock reading
func (s *AuthService) Now() time.Time {
	return s.now()
}

// GenerateAccessToken signs an access token for a principal at now
func (s *AuthService) GenerateAccessToken(p *Principal, sessionID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		Name:      p.DisplayName,
		Email:     p.Email,
		Role:      p.Role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ValidateAccessToken validates a JWT access token and returns the claims.
// Only signature, issuer and expiry are checked; no store round-trip happens.
func (s *AuthService) ValidateAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secretKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid || !claims.Role.Valid() || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword hashes a password using bcrypt with cost factor 12
func (s *AuthService) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// VerifyPassword checks if a password matches the hash
func (s *AuthService) VerifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// GenerateRefreshToken returns a fresh random refresh identifier (UUIDv4)
func (s *AuthService) GenerateRefreshToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ParseRefreshToken checks the shape of a presented refresh identifier
func ParseRefreshToken(token string) (uuid.UUID, error) {
	id, err := uuid.Parse(token)
	if err != nil || id.Version() != 4 || len(token) != 36 {
		return uuid.Nil, ErrMalformedInput
	}
	return id, nil
}

// HashToken hashes a token using SHA256
func (s *AuthService) HashToken(token string) string {
	return HashToken(token)
}

// HashToken hashes a token using SHA256
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
