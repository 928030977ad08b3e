package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"tasklane/api/internal/access"
	"tasklane/api/internal/analytics"
	"tasklane/api/internal/auth"
	"tasklane/api/internal/config"
	"tasklane/api/internal/docstore"
	"tasklane/api/internal/media"
	"tasklane/api/internal/search"
	"tasklane/api/internal/session"
	"tasklane/api/internal/store"
	"tasklane/api/internal/util"
)

const maxNameLength = 256

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// Options carries the optional adapters. Nil fields fall back to the
// document store backed implementations.
type Options struct {
	Sessions session.Store
	Search   *search.Service
	Media    media.Store
	Location *time.Location
	Clock    func() time.Time
}

type Service struct {
	cfg       config.Config
	repo      *store.Repository
	sessions  session.Store
	guard     *access.Guard
	analytics *analytics.Aggregator
	search    *search.Service
	media     media.Store
	now       func() time.Time
}

func New(cfg config.Config, repo *store.Repository, opts Options) *Service {
	s := &Service{
		cfg:      cfg,
		repo:     repo,
		sessions: opts.Sessions,
		guard:    access.NewGuard(repo, repo),
		search:   opts.Search,
		media:    opts.Media,
		now:      opts.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sessions == nil {
		s.sessions = session.NewDocStore(repo.Docs())
	}
	if s.search == nil {
		s.search = search.NewService(nil, search.NewStoreSearcher(repo.Docs()))
	}
	if s.media == nil {
		s.media = media.NewInlineStore(cfg.MaxImageBytes)
	}
	s.analytics = analytics.NewAggregator(repo.Docs(),
		analytics.WithClock(s.now),
		analytics.WithLocation(opts.Location),
	)
	return s
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.Join(strings.Fields(name), " ")
	if userName == "" {
		return Session{}, validationError("name is required", nil)
	}
	if len(userName) > maxNameLength {
		return Session{}, validationError("name is too long", nil)
	}

	user, err := s.repo.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked before a new pair
// is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.repo.GetUser(ctx, data.UserID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.repo.GetUser(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout is best effort: a failed revocation still ends the client session.
func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	var errs []error
	if sess.JTI != "" {
		errs = append(errs, s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt))
	}
	if refreshToken != "" {
		errs = append(errs, s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)))
	}
	return errors.Join(errs...)
}

func (s *Service) CurrentUser(ctx context.Context, sess Session) (store.User, error) {
	return s.repo.GetUser(ctx, sess.UserID)
}

// CheckAccess authorizes the caller against a resource of the given kind.
func (s *Service) CheckAccess(ctx context.Context, callerID, kind, id string) (store.Membership, error) {
	parsed, ok := access.ParseKind(kind)
	if !ok {
		return store.Membership{}, validationError("kind must be workspace, project or task", nil)
	}
	if strings.TrimSpace(id) == "" {
		return store.Membership{}, validationError("id is required", nil)
	}
	return s.guard.Resource(ctx, parsed, id, callerID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) SearchHealthy() bool {
	return s.search.Healthy()
}

func (s *Service) saveImage(ctx context.Context, prefix string, upload *media.Upload) (string, error) {
	if upload == nil {
		return "", nil
	}
	url, err := s.media.Save(ctx, prefix, *upload)
	if err != nil {
		switch {
		case errors.Is(err, media.ErrNotImage):
			return "", validationError("image must be an image file", nil)
		case errors.Is(err, media.ErrTooLarge):
			return "", validationError("image is too large", map[string]any{"maxBytes": s.cfg.MaxImageBytes})
		}
		return "", err
	}
	return url, nil
}

func cleanName(value string) (string, error) {
	name := strings.TrimSpace(value)
	if name == "" {
		return "", validationError("name is required", nil)
	}
	if len(name) > maxNameLength {
		return "", validationError("name is too long", nil)
	}
	return name, nil
}
