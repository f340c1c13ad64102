package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

const (
	// DefaultAccessTTL is the lifetime of an access token
	DefaultAccessTTL = 30 * time.Minute

	minPasswordLen = 8
	maxPasswordLen = 72
	minHandleLen   = 3
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Config holds the tunables of the auth service
type Config struct {
	Domain    string        // Shown in the first line of every challenge
	NonceTTL  time.Duration // Lifetime of an issued challenge
	AccessTTL time.Duration // Lifetime of an access token
}

// Dependencies are the collaborators of the auth service. Events, Metrics and Logger are optional.
type Dependencies struct {
	Store      ports.NonceStore
	Verifiers  *Verifiers
	Repository ports.Repository
	Hasher     ports.PasswordHasher
	Tokenizer  ports.Tokenizer
	Events     ports.EventPublisher
	Metrics    ports.Metrics
	Logger     *slog.Logger
}

// AuthService handles authentication business logic
type AuthService struct {
	store      ports.NonceStore
	verifiers  *Verifiers
	challenges *ChallengeBuilder
	resolver   *IdentityResolver
	repo       ports.Repository
	hasher     ports.PasswordHasher
	tokenizer  ports.Tokenizer
	eventPub   ports.EventPublisher
	metrics    ports.Metrics
	logger     *slog.Logger

	accessTTL time.Duration
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new authentication service
func NewAuthService(cfg Config, deps Dependencies) *AuthService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = noopEvents{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}

	return &AuthService{
		store:      deps.Store,
		verifiers:  deps.Verifiers,
		challenges: NewChallengeBuilder(deps.Store, deps.Verifiers, cfg.Domain, cfg.NonceTTL),
		resolver:   NewIdentityResolver(deps.Repository, deps.Logger),
		repo:       deps.Repository,
		hasher:     deps.Hasher,
		tokenizer:  deps.Tokenizer,
		eventPub:   deps.Events,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		accessTTL:  cfg.AccessTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateChallenge issues a challenge for address. An empty provider is detected from the address.
func (s *AuthService) CreateChallenge(ctx context.Context, provider core.Provider, address string) (*core.Challenge, error) {
	challenge, err := s.challenges.Build(ctx, provider, address)
	if err != nil {
		return nil, err
	}
	s.metrics.ChallengeIssued(challenge.Provider)
	return challenge, nil
}

// Verify authenticates a signed challenge, creating the account on first use
func (s *AuthService) Verify(ctx context.Context, proof core.WalletProof) (*core.AuthResult, error) {
	verified, err := s.verifyProof(ctx, proof)
	if err != nil {
		return nil, err
	}

	user, created, err := s.resolver.ResolveOrCreate(ctx, verified)
	if err != nil {
		return nil, err
	}

	result, err := s.authResult(ctx, user)
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("account created", "op", "verify", "provider", verified.Provider, "user_id", user.ID)
		s.publish(ctx, ports.Event{Type: ports.EventUserRegistered, UserID: user.ID, Provider: verified.Provider.String(), ExternalID: verified.ExternalID})
	}
	s.publish(ctx, ports.Event{Type: ports.EventUserAuthenticated, UserID: user.ID, Provider: verified.Provider.String(), ExternalID: verified.ExternalID})
	return result, nil
}

// Link attaches a wallet proven by a signed challenge to the authenticated user
func (s *AuthService) Link(ctx context.Context, userID string, proof core.WalletProof) ([]core.Identity, error) {
	verified, err := s.verifyProof(ctx, proof)
	if err != nil {
		return nil, err
	}

	identities, err := s.resolver.Link(ctx, userID, verified)
	if err != nil {
		s.logger.Debug("link rejected", "op", "link", "provider", verified.Provider, "user_id", userID, "err", err)
		return nil, err
	}

	s.logger.Info("identity linked", "op", "link", "provider", verified.Provider, "user_id", userID)
	s.publish(ctx, ports.Event{Type: ports.EventIdentityLinked, UserID: userID, Provider: verified.Provider.String(), ExternalID: verified.ExternalID})
	return identities, nil
}

// Unlink removes one of the user's identities. The external id is canonicalized first.
func (s *AuthService) Unlink(ctx context.Context, userID string, provider core.Provider, externalID string) ([]core.Identity, error) {
	canonical, err := s.canonicalExternalID(provider, externalID)
	if err != nil {
		return nil, err
	}

	identities, err := s.resolver.Unlink(ctx, userID, provider, canonical)
	if err != nil {
		return nil, err
	}

	s.logger.Info("identity unlinked", "op", "unlink", "provider", provider, "user_id", userID)
	s.publish(ctx, ports.Event{Type: ports.EventIdentityUnlinked, UserID: userID, Provider: provider.String(), ExternalID: canonical})
	return identities, nil
}

// EmailSignup registers a new account with an email identity.
// An empty username is generated from the email local part.
func (s *AuthService) EmailSignup(ctx context.Context, email, password, username string) (*core.AuthResult, error) {
	email = normalizeEmail(email)
	if !emailRe.MatchString(email) {
		return nil, core.ErrInvalidEmail
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if username != "" {
		if err := validateUsername(username); err != nil {
			return nil, err
		}
	}

	_, err := s.repo.FindIdentity(ctx, core.ProviderEmail, email)
	switch {
	case err == nil:
		return nil, core.ErrEmailTaken
	case !errors.Is(err, core.ErrNotFound):
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	verified := core.VerifiedIdentity{
		Provider:   core.ProviderEmail,
		ExternalID: email,
		Payload:    core.EmailPayload{PasswordHash: hash},
	}
	user, err := s.resolver.Register(ctx, verified, username)
	var conflict *ports.IdentityConflictError
	if errors.As(err, &conflict) {
		return nil, core.ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}

	result, err := s.authResult(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created", "op", "email_signup", "provider", core.ProviderEmail, "user_id", user.ID)
	s.publish(ctx, ports.Event{Type: ports.EventUserRegistered, UserID: user.ID, Provider: core.ProviderEmail.String(), ExternalID: email})
	return result, nil
}

// EmailLogin authenticates an email and password. Unknown emails and wrong passwords fail
// with the same error after comparable work.
func (s *AuthService) EmailLogin(ctx context.Context, email, password string) (*core.AuthResult, error) {
	result, err := s.emailLogin(ctx, email, password)
	s.metrics.EmailLogin(outcomeOf(err))
	return result, err
}

func (s *AuthService) emailLogin(ctx context.Context, email, password string) (*core.AuthResult, error) {
	email = normalizeEmail(email)

	identity, err := s.repo.FindIdentity(ctx, core.ProviderEmail, email)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.burnCompare(password)
			return nil, core.ErrInvalidCredentials
		}
		return nil, err
	}

	payload, ok := identity.Payload.(core.EmailPayload)
	if !ok || payload.PasswordHash == "" {
		s.burnCompare(password)
		return nil, core.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(payload.PasswordHash, password); err != nil {
		return nil, core.ErrInvalidCredentials
	}

	user, err := s.repo.GetUser(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, core.ErrAccountInactive
	}

	result, err := s.authResult(ctx, user)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, ports.Event{Type: ports.EventUserAuthenticated, UserID: user.ID, Provider: core.ProviderEmail.String(), ExternalID: email})
	return result, nil
}

// ChangePassword replaces the password of the user's email identity
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	identities, err := s.repo.ListIdentities(ctx, userID)
	if err != nil {
		return err
	}

	var identity *core.Identity
	for i := range identities {
		if identities[i].Provider == core.ProviderEmail {
			identity = &identities[i]
			break
		}
	}
	if identity == nil {
		return fmt.Errorf("no email identity: %w", core.ErrNotFound)
	}

	payload, ok := identity.Payload.(core.EmailPayload)
	if !ok || payload.PasswordHash == "" {
		return core.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(payload.PasswordHash, current); err != nil {
		return core.ErrInvalidCredentials
	}
	if err := validatePassword(next); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateIdentityPayload(ctx, core.ProviderEmail, identity.ExternalID, core.EmailPayload{PasswordHash: hash}); err != nil {
		return err
	}

	s.logger.Info("password changed", "op", "change_password", "user_id", userID)
	return nil
}

// Me returns the user and its linked identities
func (s *AuthService) Me(ctx context.Context, userID string) (*core.User, []core.Identity, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	identities, err := s.repo.ListIdentities(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, identities, nil
}

// ListIdentities returns the identities linked to the user
func (s *AuthService) ListIdentities(ctx context.Context, userID string) ([]core.Identity, error) {
	return s.repo.ListIdentities(ctx, userID)
}

// UpdateHandle changes the display handle of the user
func (s *AuthService) UpdateHandle(ctx context.Context, userID, handle string) (*core.User, error) {
	if err := validateUsername(handle); err != nil {
		return nil, err
	}
	return s.repo.UpdateHandle(ctx, userID, handle)
}

// Deactivate soft-deactivates the account; subsequent logins fail with core.ErrAccountInactive
func (s *AuthService) Deactivate(ctx context.Context, userID string) (*core.User, error) {
	user, err := s.repo.SetActive(ctx, userID, false)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account deactivated", "op", "deactivate", "user_id", userID)
	s.publish(ctx, ports.Event{Type: ports.EventUserDeactivated, UserID: userID})
	return user, nil
}

// ValidateAccessToken decodes a bearer token into its session
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Session, error) {
	session, err := s.tokenizer.AccessTokenToSession(accessToken)
	if err != nil {
		return nil, err
	}

	// Check if the token has expired
	if s.now().After(session.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	return session, nil
}

// verifyProof consumes the nonce for the claimed address, checks that the message is the
// issued challenge and only then checks the signature
func (s *AuthService) verifyProof(ctx context.Context, proof core.WalletProof) (core.VerifiedIdentity, error) {
	verified, provider, err := s.checkProof(ctx, proof)
	if provider != "" {
		s.metrics.Verification(provider, outcomeOf(err))
	}
	if err != nil {
		s.logger.Debug("wallet verification failed", "provider", provider, "err", err)
		return core.VerifiedIdentity{}, err
	}
	return verified, nil
}

func (s *AuthService) checkProof(ctx context.Context, proof core.WalletProof) (core.VerifiedIdentity, core.Provider, error) {
	sv, canonical, err := s.verifiers.Resolve(proof.Provider, proof.Address)
	if err != nil {
		return core.VerifiedIdentity{}, proof.Provider, err
	}
	provider := sv.Provider()

	nonce, ok, err := s.store.Take(ctx, nonceKey(provider, canonical))
	if err != nil {
		return core.VerifiedIdentity{}, provider, fmt.Errorf("failed to consume nonce: %w", err)
	}
	if !ok {
		return core.VerifiedIdentity{}, provider, core.ErrChallengeExpired
	}

	fields, ok := parseChallenge(proof.Message)
	if !ok || fields.Nonce != nonce {
		return core.VerifiedIdentity{}, provider, core.ErrChallengeMismatch
	}
	if signed, err := sv.ValidateAddress(fields.Address); err != nil || signed != canonical {
		return core.VerifiedIdentity{}, provider, core.ErrChallengeMismatch
	}

	verified, err := sv.Verify(proof.Address, proof.Message, proof.Signature, proof.PublicKey)
	if err != nil {
		if !errors.Is(err, core.ErrSignatureInvalid) {
			err = fmt.Errorf("%w: %v", core.ErrSignatureInvalid, err)
		}
		return core.VerifiedIdentity{}, provider, err
	}
	return verified, provider, nil
}

func (s *AuthService) authResult(ctx context.Context, user *core.User) (*core.AuthResult, error) {
	token, session, err := s.issueToken(user)
	if err != nil {
		return nil, err
	}
	identities, err := s.repo.ListIdentities(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &core.AuthResult{
		User:       *user,
		Identities: identities,
		Token:      token,
		Session:    *session,
	}, nil
}

func (s *AuthService) issueToken(user *core.User) (string, *core.Session, error) {
	now := s.now()
	session := &core.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.accessTTL),
	}

	token, err := s.tokenizer.SessionToAccessToken(session)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create access token: %w", err)
	}
	return token, session, nil
}

func (s *AuthService) canonicalExternalID(provider core.Provider, externalID string) (string, error) {
	if provider == core.ProviderEmail {
		return normalizeEmail(externalID), nil
	}
	sv, err := s.verifiers.Get(provider)
	if err != nil {
		return "", err
	}
	return sv.ValidateAddress(externalID)
}

// burnCompare spends a bcrypt comparison so unknown emails cost as much as wrong passwords
func (s *AuthService) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("sigil-timing-equalizer")
		if err != nil {
			s.logger.Warn("failed to prepare dummy hash", "err", err)
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		_ = s.hasher.Compare(s.dummyHash, password)
	}
}

func (s *AuthService) publish(ctx context.Context, event ports.Event) {
	if err := s.eventPub.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", "type", event.Type, "user_id", event.UserID, "err", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters: %w", minPasswordLen, core.ErrWeakPassword)
	}
	if len(password) > maxPasswordLen {
		return fmt.Errorf("password must be at most %d bytes: %w", maxPasswordLen, core.ErrWeakPassword)
	}
	return nil
}

func validateUsername(username string) error {
	if len(username) < minHandleLen || len(username) > maxHandleLen {
		return fmt.Errorf("username must be %d-%d characters: %w", minHandleLen, maxHandleLen, core.ErrInvalidUsername)
	}
	if !usernameRe.MatchString(username) {
		return fmt.Errorf("username can only contain letters, numbers, underscores, and hyphens: %w", core.ErrInvalidUsername)
	}
	return nil
}

// outcomeOf labels an error for metrics
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, core.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, core.ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, core.ErrChallengeMismatch):
		return "challenge_mismatch"
	case errors.Is(err, core.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, core.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, core.ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, core.ErrUnavailable):
		return "unavailable"
	}
	return "error"
}

type noopEvents struct{}

func (noopEvents) Publish(context.Context, ports.Event) error { return nil }

type noopMetrics struct{}

func (noopMetrics) ChallengeIssued(core.Provider)      {}
func (noopMetrics) Verification(core.Provider, string) {}
func (noopMetrics) EmailLogin(string)                  {}
