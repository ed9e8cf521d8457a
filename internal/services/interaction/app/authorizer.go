package app

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/auditorium.live/internal/errors"
)

// Participant roles carried in room tokens.
const (
	RoleParticipant = "participant"
	RoleModerator   = "moderator"
)

// RoomClaims identify one user inside one room.
type RoomClaims struct {
	UserID string
	RoomID string
	Role   string
}

// Moderator reports whether the claims grant moderator privileges.
func (c RoomClaims) Moderator() bool { return c.Role == RoleModerator }

// roomTokenClaims is the claims shape used for JWT parsing and signing.
type roomTokenClaims struct {
	jwt.RegisteredClaims
	RoomID string `json:"room_id"`
	Role   string `json:"role"`
}

// Authorizer issues and verifies HMAC-signed room tokens. Tokens bind one
// user to one room; moderator-only operations additionally check the role
// claim.
type Authorizer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthorizer creates an authorizer signing with secret. Issued tokens
// expire after ttl.
func NewAuthorizer(secret []byte, ttl time.Duration) *Authorizer {
	return &Authorizer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a token for the given claims.
func (a *Authorizer) Issue(claims RoomClaims) (string, error) {
	if claims.UserID == "" || claims.RoomID == "" {
		return "", errors.New("room token requires user and room ids")
	}
	role := claims.Role
	if role == "" {
		role = RoleParticipant
	}
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, roomTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
		RoomID: claims.RoomID,
		Role:   role,
	})
	return token.SignedString(a.secret)
}

// Verify parses the token and checks it belongs to roomID.
func (a *Authorizer) Verify(token, roomID string) (RoomClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return RoomClaims{}, apperrors.New(apperrors.CodeTokenInvalid, "room token is required")
	}

	var parsed roomTokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return RoomClaims{}, mapJWTError(err)
	}
	if parsed.Subject == "" {
		return RoomClaims{}, apperrors.New(apperrors.CodeTokenInvalid, "room token sub is required")
	}
	if parsed.RoomID != roomID {
		return RoomClaims{}, apperrors.New(apperrors.CodeTokenRoomMismatch, "room token is for another room")
	}

	claims := RoomClaims{
		UserID: parsed.Subject,
		RoomID: parsed.RoomID,
		Role:   parsed.Role,
	}
	if claims.Role == "" {
		claims.Role = RoleParticipant
	}
	return claims, nil
}

// VerifyModerator verifies the token and requires the moderator role.
func (a *Authorizer) VerifyModerator(token, roomID string) (RoomClaims, error) {
	claims, err := a.Verify(token, roomID)
	if err != nil {
		return RoomClaims{}, err
	}
	if !claims.Moderator() {
		return RoomClaims{}, apperrors.New(apperrors.CodeModeratorRequired, "operation requires a moderator token")
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.New(apperrors.CodeTokenInvalid, "room token is expired")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.New(apperrors.CodeTokenInvalid, "room token signature is invalid")
	default:
		return apperrors.New(apperrors.CodeTokenInvalid, "room token is invalid")
	}
}
