package attendance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// tokenBytes gives 160 bits of entropy per credential.
const tokenBytes = 20

// IssueCredential mints a fresh QR token for sessionID valid for minutes.
// Any previous credential of the session stops working immediately.
func (s *Service) IssueCredential(ctx context.Context, sessionID string, minutes int) (Credential, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Credential{}, NewValidationError(FieldError{Field: "session_id", Error: "required"})
	}
	if minutes > MaxCredentialMinutes {
		return Credential{}, NewValidationError(FieldError{
			Field: "duration_minutes",
			Error: fmt.Sprintf("must be at most %d", MaxCredentialMinutes),
		})
	}
	if minutes <= 0 {
		minutes = s.defaultMinutes
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return Credential{}, err
	}

	token, err := newToken()
	if err != nil {
		return Credential{}, err
	}
	expiresAt := s.now().Add(time.Duration(minutes) * time.Minute)
	if err := s.store.SetCredential(ctx, sessionID, token, expiresAt, minutes); err != nil {
		return Credential{}, err
	}

	s.metrics.CredentialIssued()
	s.log.Info("credential issued", "session_id", sessionID, "minutes", minutes, "expires_at", expiresAt)
	return Credential{
		SessionID:       sessionID,
		Token:           token,
		ExpiresAt:       expiresAt,
		DurationMinutes: minutes,
	}, nil
}

// ActiveCredential returns the session credential while it is still valid.
func (s *Service) ActiveCredential(ctx context.Context, sessionID string) (Credential, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Credential{}, err
	}
	if sess.CredentialState(s.now()) != CredentialActive {
		return Credential{}, fmt.Errorf("session %s has no active credential: %w", sessionID, ErrNotFound)
	}
	return Credential{
		SessionID:       sess.ID,
		Token:           sess.Credential,
		ExpiresAt:       *sess.CredentialExpiresAt,
		DurationMinutes: sess.DurationMinutes,
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return hex.EncodeToString(b), nil
}
