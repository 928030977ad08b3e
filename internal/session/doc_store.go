package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tasklane/api/internal/docstore"
)

const (
	collectionRefresh = "sessions"
	collectionRevoked = "revoked_tokens"
)

// DocStore keeps sessions in the document store when Redis is not configured.
// Expired entries are ignored on read and removed lazily.
type DocStore struct {
	docs docstore.Store
	now  func() time.Time
}

func NewDocStore(docs docstore.Store) *DocStore {
	return &DocStore{docs: docs, now: time.Now}
}

func (s *DocStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if !expiresAt.After(s.now()) {
		expiresAt = s.now().Add(defaultRefreshTTL)
	}
	_, err := s.docs.Create(ctx, collectionRefresh, tokenHash, map[string]any{
		"userId":    userID,
		"expiresAt": docstore.FormatTime(expiresAt),
	})
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *DocStore) LookupRefreshSession(ctx context.Context, tokenHash string) (TokenData, error) {
	doc, err := s.docs.Get(ctx, collectionRefresh, tokenHash)
	if errors.Is(err, docstore.ErrNotFound) {
		return TokenData{}, ErrSessionNotFound
	}
	if err != nil {
		return TokenData{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	expiresAt, err := docstore.ParseTime(doc.String("expiresAt"))
	if err != nil || !expiresAt.After(s.now()) {
		_ = s.docs.Delete(ctx, collectionRefresh, tokenHash)
		return TokenData{}, ErrSessionNotFound
	}
	return TokenData{UserID: doc.String("userId"), CreatedAt: doc.CreatedAt, ExpiresAt: expiresAt}, nil
}

func (s *DocStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	err := s.docs.Delete(ctx, collectionRefresh, tokenHash)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *DocStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if !expiresAt.After(s.now()) {
		return nil
	}
	_, err := s.docs.Create(ctx, collectionRevoked, jti, map[string]any{
		"expiresAt": docstore.FormatTime(expiresAt),
	})
	if err != nil && !errors.Is(err, docstore.ErrAlreadyExists) {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *DocStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	doc, err := s.docs.Get(ctx, collectionRevoked, jti)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	expiresAt, err := docstore.ParseTime(doc.String("expiresAt"))
	if err == nil && !expiresAt.After(s.now()) {
		_ = s.docs.Delete(ctx, collectionRevoked, jti)
		return false, nil
	}
	return true, nil
}

func (s *DocStore) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

func (s *DocStore) Close() error {
	return nil
}
