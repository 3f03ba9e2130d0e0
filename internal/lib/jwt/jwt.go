package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"readauth/internal/domain/models"
)

const refreshTokenType = "refresh"

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// Claims is the payload carried by both access and refresh tokens.
// Access tokens fill UserID, LoginID (subject) and Role; refresh tokens
// fill UserID, DeviceID and Type="refresh".
type Claims struct {
	UserID   int64       `json:"userId"`
	Role     models.Role `json:"role,omitempty"`
	DeviceID string      `json:"deviceId,omitempty"`
	Type     string      `json:"type,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) LoginID() string {
	return c.Subject
}

func (c *Claims) IsRefresh() bool {
	return c.Type == refreshTokenType
}

// Codec signs and verifies bearer tokens. It has no I/O; the clock is
// injected so expiry is a pure function of the input.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewCodec(secret string, accessTTL, refreshTTL time.Duration, now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}
}

// IssueAccess creates a signed access token for the user.
func (c *Codec) IssueAccess(user *models.User) (string, error) {
	now := c.now()
	claims := Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.LoginID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.secret)
}

// IssueRefresh creates a signed refresh token bound to a device.
func (c *Codec) IssueRefresh(user *models.User, deviceID string) (string, error) {
	now := c.now()
	claims := Claims{
		UserID:   user.ID,
		DeviceID: deviceID,
		Type:     refreshTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.LoginID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(c.secret)
}

// Verify checks the signature and expiry of a token and returns its claims.
// A token whose expiry equals the current instant is already expired.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	const op = "jwt.Verify"

	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return c.secret, nil
		},
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
		default:
			return nil, fmt.Errorf("%s: %w", op, ErrTokenMalformed)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenMalformed)
	}

	return claims, nil
}

// IsRefresh reports whether the token carries the refresh type claim.
// Expiry is not checked here; an expired refresh token is still a refresh token.
func (c *Codec) IsRefresh(tokenString string) bool {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return false
	}
	return claims.IsRefresh()
}
