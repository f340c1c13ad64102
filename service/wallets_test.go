package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sigil/adapters/hasher"
	"github.com/layer-3/sigil/adapters/repository"
	"github.com/layer-3/sigil/adapters/store"
	"github.com/layer-3/sigil/adapters/tokenizer"
	"github.com/layer-3/sigil/adapters/verifier"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// wallet signs challenges the way a browser wallet for its chain would
type wallet interface {
	Provider() core.Provider
	Address() string
	PublicKey() string
	Sign(t *testing.T, message string) string
}

type evmWallet struct {
	key *ecdsa.PrivateKey
}

func newEVMWallet(t *testing.T) *evmWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &evmWallet{key: key}
}

func (w *evmWallet) Provider() core.Provider { return core.ProviderEVM }
func (w *evmWallet) Address() string         { return crypto.PubkeyToAddress(w.key.PublicKey).Hex() }
func (w *evmWallet) PublicKey() string       { return "" }

func (w *evmWallet) Sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

type solanaWallet struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSolanaWallet(t *testing.T) *solanaWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return &solanaWallet{pub: pub, priv: priv}
}

func (w *solanaWallet) Provider() core.Provider { return core.ProviderSolana }
func (w *solanaWallet) Address() string         { return base58.Encode(w.pub) }
func (w *solanaWallet) PublicKey() string       { return "" }

func (w *solanaWallet) Sign(_ *testing.T, message string) string {
	return base58.Encode(ed25519.Sign(w.priv, []byte(message)))
}

type cosmosWallet struct {
	key     *ecdsa.PrivateKey
	pub     []byte
	address string
}

func newCosmosWallet(t *testing.T, hrp string) *cosmosWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub := crypto.CompressPubkey(&key.PublicKey)
	address, err := verifier.CosmosAddress(hrp, pub)
	require.NoError(t, err)
	return &cosmosWallet{key: key, pub: pub, address: address}
}

func (w *cosmosWallet) Provider() core.Provider { return core.ProviderCosmos }
func (w *cosmosWallet) Address() string         { return w.address }
func (w *cosmosWallet) PublicKey() string       { return base64.StdEncoding.EncodeToString(w.pub) }

func (w *cosmosWallet) Sign(t *testing.T, message string) string {
	t.Helper()
	digest := sha256.Sum256([]byte(message))
	sig, err := crypto.Sign(digest[:], w.key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig[:64])
}

func proofFor(t *testing.T, w wallet, message string) core.WalletProof {
	return core.WalletProof{
		Address:   w.Address(),
		Message:   message,
		Signature: w.Sign(t, message),
		PublicKey: w.PublicKey(),
	}
}

// recordingPublisher collects published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []ports.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e ports.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	svc       *AuthService
	repo      *repository.MemoryRepository
	store     *store.MemoryStore
	events    *recordingPublisher
	tokenizer *tokenizer.JWTTokenizer
}

func newTestVerifiers() *Verifiers {
	return NewVerifiers(
		verifier.NewEVMVerifier(),
		verifier.NewSolanaVerifier(),
		verifier.NewCosmosVerifier(verifier.DefaultCosmosPrefixes...),
	)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	env := &testEnv{
		repo:      repository.NewMemoryRepository(),
		store:     store.NewMemoryStore(),
		events:    &recordingPublisher{},
		tokenizer: tokenizer.NewJWTTokenizer(key),
	}
	env.svc = NewAuthService(
		Config{Domain: "sigil.test"},
		Dependencies{
			Store:      env.store,
			Verifiers:  newTestVerifiers(),
			Repository: env.repo,
			Hasher:     hasher.NewBcryptHasher(bcrypt.MinCost),
			Tokenizer:  env.tokenizer,
			Events:     env.events,
			Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
	)
	return env
}

// login runs a full challenge/verify round for w
func (env *testEnv) login(t *testing.T, w wallet) *core.AuthResult {
	t.Helper()
	ctx := context.Background()
	ch, err := env.svc.CreateChallenge(ctx, "", w.Address())
	require.NoError(t, err)
	res, err := env.svc.Verify(ctx, proofFor(t, w, ch.Message))
	require.NoError(t, err)
	return res
}
