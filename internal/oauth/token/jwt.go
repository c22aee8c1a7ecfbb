package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	tmodels "ticketd/internal/ticket/models"
	dErrors "ticketd/pkg/domain-errors"
)

// Claims are the claims of a JWT access token. The jti is the ticket id, so
// the ticket registry stays the source of truth for revocation.
type Claims struct {
	ClientID  string `json:"client_id"`
	GrantType string `json:"grant_type,omitempty"`
	Scope     string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// JWTEncoder signs access tokens with HS256.
type JWTEncoder struct {
	signingKey []byte
	issuer     string
}

func NewJWTEncoder(signingKey string, issuer string) *JWTEncoder {
	return &JWTEncoder{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

func (e *JWTEncoder) Encode(t *tmodels.Ticket) (string, error) {
	if t.Token == nil {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "ticket carries no token data")
	}
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ClientID:  t.Token.ClientID,
		GrantType: t.Token.GrantType,
		Scope:     strings.Join(t.Token.Scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   t.Token.Authentication.Principal.ID,
			Audience:  []string{t.Token.Service},
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt()),
			IssuedAt:  jwt.NewNumericDate(t.CreatedAt),
			Issuer:    e.issuer,
			ID:        t.ID,
		},
	})

	signedToken, err := newToken.SignedString(e.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// Validate checks the signature, issuer and expiry at now.
func (e *JWTEncoder) Validate(tokenString string, now time.Time) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return e.signingKey, nil
	},
		jwt.WithIssuer(e.issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeExpiredToken, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeInvalidGrant, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidGrant, "invalid token claims")
	}
	return claims, nil
}

func (e *JWTEncoder) TicketID(tokenString string, now time.Time) (string, error) {
	claims, err := e.Validate(tokenString, now)
	if err != nil {
		return "", err
	}
	return claims.ID, nil
}
