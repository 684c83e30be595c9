package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/types"
)

// TokenService mints channel access tokens. Cleartext is returned exactly
// once; only the digest is stored, and lookups go through the digest.
type TokenService struct {
	tokens repos.SecretTokenRepo
	log    *logger.Logger
}

func NewTokenService(tokens repos.SecretTokenRepo, baseLog *logger.Logger) *TokenService {
	return &TokenService{tokens: tokens, log: baseLog.With("service", "TokenService")}
}

// newTokenString produces the human-readable xxxxx-xxxxx form.
func newTokenString() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	s := hex.EncodeToString(buf)
	return fmt.Sprintf("%s-%s", s[:5], s[5:]), nil
}

func HashToken(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}

// MintPrimary creates the channel's canonical token.
func (s *TokenService) MintPrimary(ctx context.Context, tx *gorm.DB, channelID uuid.UUID) (string, *types.SecretToken, error) {
	return s.mint(ctx, tx, &channelID, nil, true)
}

// MintPreview creates a non-primary token granting access to one draft
// channel version.
func (s *TokenService) MintPreview(ctx context.Context, tx *gorm.DB, channelID, versionID uuid.UUID) (string, *types.SecretToken, error) {
	return s.mint(ctx, tx, &channelID, &versionID, false)
}

func (s *TokenService) mint(ctx context.Context, tx *gorm.DB, channelID, versionID *uuid.UUID, primary bool) (string, *types.SecretToken, error) {
	cleartext, err := newTokenString()
	if err != nil {
		return "", nil, err
	}
	token := &types.SecretToken{
		ID:               uuid.New(),
		TokenHash:        HashToken(cleartext),
		IsPrimary:        primary,
		ChannelID:        channelID,
		ChannelVersionID: versionID,
	}
	if _, err := s.tokens.Create(ctx, tx, token); err != nil {
		return "", nil, err
	}
	return cleartext, token, nil
}
