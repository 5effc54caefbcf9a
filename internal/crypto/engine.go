// Package crypto implements the per-user content encryption engine.
//
// A 32-byte secretbox key is derived from the user's passphrase with
// PBKDF2-SHA256, salted by the user id so two users with the same
// passphrase never share a key. Every token is a random 24-byte nonce
// prepended to the secretbox ciphertext, base64-encoded:
//
//	base64( [ 24-byte nonce ][ ciphertext+tag ] )
//
// Heavy operations above the configured size thresholds run on their own
// goroutine with a channel handoff so callers stay within a UI frame
// budget.
package crypto

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrNotInitialized = errors.New("engine not initialized")
	ErrDisabled       = errors.New("encryption disabled for user")
	ErrMalformedToken = errors.New("malformed ciphertext token")
	ErrAuthFailed     = errors.New("authentication failed")
)

const (
	keySize   = 32
	nonceSize = 24

	// DefaultIterations follows the OWASP PBKDF2-SHA256 floor.
	DefaultIterations = 100_000

	DefaultEncryptOffloadBytes = 5 * 1024
	DefaultDecryptOffloadBytes = 7 * 1024
)

var saltContext = []byte("ghostcopy-v1:")

// Options tune the engine. Zero values select the defaults; the offload
// thresholds are empirical constants, not semantics.
type Options struct {
	Iterations          int
	EncryptOffloadBytes int
	DecryptOffloadBytes int
}

// Engine holds the single piece of cross-call shared mutable state in the
// core: the derived key and its owning user. Access is serialized so
// concurrent first-use converges on one derivation.
type Engine struct {
	mu   sync.Mutex
	opts Options

	userID string
	key    *[keySize]byte
}

func NewEngine(opts Options) *Engine {
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.EncryptOffloadBytes <= 0 {
		opts.EncryptOffloadBytes = DefaultEncryptOffloadBytes
	}
	if opts.DecryptOffloadBytes <= 0 {
		opts.DecryptOffloadBytes = DefaultDecryptOffloadBytes
	}
	return &Engine{opts: opts}
}

// Initialize derives the user's key. Calling it again for the same user is
// a no-op; a different user resets the engine and derives fresh state. An
// empty passphrase initializes the engine with encryption disabled.
func (e *Engine) Initialize(userID, passphrase string) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.userID == userID {
		return nil
	}
	e.userID = userID
	e.key = nil
	if passphrase == "" {
		return nil
	}
	salt := append(append([]byte(nil), saltContext...), userID...)
	derived := pbkdf2.Key([]byte(passphrase), salt, e.opts.Iterations, keySize, sha256.New)
	var key [keySize]byte
	copy(key[:], derived)
	e.key = &key
	return nil
}

// Enabled reports whether the current user opted into end-to-end
// encryption. When false, callers must not route content through
// Encrypt/Decrypt.
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key != nil
}

func (e *Engine) snapshotKey() (*[keySize]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.userID == "" {
		return nil, ErrNotInitialized
	}
	if e.key == nil {
		return nil, ErrDisabled
	}
	return e.key, nil
}

// Encrypt seals plaintext into a self-contained token. Payloads above the
// encrypt threshold are sealed off the calling goroutine.
func (e *Engine) Encrypt(ctx context.Context, plaintext string) (string, error) {
	key, err := e.snapshotKey()
	if err != nil {
		return "", err
	}
	if len(plaintext) <= e.opts.EncryptOffloadBytes {
		return seal(plaintext, key)
	}
	return offload(ctx, func() (string, error) { return seal(plaintext, key) })
}

// Decrypt opens a token produced by Encrypt. Authentication failures,
// truncated tokens, and foreign-key tokens all fail with ErrAuthFailed or
// ErrMalformedToken; garbage plaintext is never returned.
func (e *Engine) Decrypt(ctx context.Context, token string) (string, error) {
	key, err := e.snapshotKey()
	if err != nil {
		return "", err
	}
	if len(token) <= e.opts.DecryptOffloadBytes {
		return open(token, key)
	}
	return offload(ctx, func() (string, error) { return open(token, key) })
}

func seal(plaintext string, key *[keySize]byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(cryptorand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func open(token string, key *[keySize]byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrMalformedToken
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformedToken
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrAuthFailed
	}
	return string(plain), nil
}

type offloadResult struct {
	value string
	err   error
}

// offload runs fn on its own goroutine. Once issued the work runs to
// completion; cancellation only abandons the wait.
func offload(ctx context.Context, fn func() (string, error)) (string, error) {
	results := make(chan offloadResult, 1)
	go func() {
		value, err := fn()
		results <- offloadResult{value: value, err: err}
	}()
	select {
	case result := <-results:
		return result.value, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
