package app

import (
	"testing"
	"time"

	apperrors "github.com/louisbranch/auditorium.live/internal/errors"
)

func TestAuthorizerIssueAndVerify(t *testing.T) {
	auth := NewAuthorizer([]byte("secret"), time.Hour)

	token, err := auth.Issue(RoomClaims{UserID: "user-1", RoomID: "room-1", Role: RoleModerator})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := auth.Verify(token, "room-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.RoomID != "room-1" || !claims.Moderator() {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestAuthorizerDefaultsToParticipant(t *testing.T) {
	auth := NewAuthorizer([]byte("secret"), time.Hour)

	token, err := auth.Issue(RoomClaims{UserID: "user-1", RoomID: "room-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := auth.Verify(token, "room-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != RoleParticipant {
		t.Fatalf("role = %q, want participant", claims.Role)
	}
	if _, err := auth.VerifyModerator(token, "room-1"); !apperrors.IsCode(err, apperrors.CodeModeratorRequired) {
		t.Fatalf("expected CodeModeratorRequired, got %v", err)
	}
}

func TestAuthorizerRejectsRoomMismatch(t *testing.T) {
	auth := NewAuthorizer([]byte("secret"), time.Hour)

	token, err := auth.Issue(RoomClaims{UserID: "user-1", RoomID: "room-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := auth.Verify(token, "room-2"); !apperrors.IsCode(err, apperrors.CodeTokenRoomMismatch) {
		t.Fatalf("expected CodeTokenRoomMismatch, got %v", err)
	}
}

func TestAuthorizerRejectsForgedAndExpiredTokens(t *testing.T) {
	auth := NewAuthorizer([]byte("secret"), time.Hour)

	forged, err := NewAuthorizer([]byte("other"), time.Hour).Issue(RoomClaims{UserID: "u", RoomID: "room-1"})
	if err != nil {
		t.Fatalf("issue forged: %v", err)
	}
	if _, err := auth.Verify(forged, "room-1"); !apperrors.IsCode(err, apperrors.CodeTokenInvalid) {
		t.Fatalf("expected CodeTokenInvalid for forged token, got %v", err)
	}

	if _, err := auth.Verify("", "room-1"); !apperrors.IsCode(err, apperrors.CodeTokenInvalid) {
		t.Fatalf("expected CodeTokenInvalid for empty token, got %v", err)
	}

	expired := NewAuthorizer([]byte("secret"), time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := expired.Issue(RoomClaims{UserID: "u", RoomID: "room-1"})
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := auth.Verify(token, "room-1"); !apperrors.IsCode(err, apperrors.CodeTokenInvalid) {
		t.Fatalf("expected CodeTokenInvalid for expired token, got %v", err)
	}
}
