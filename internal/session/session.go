// Package session implements the session engine: unlock (password ->
// session), sign (session -> scoped signing handle), and extend/destroy.
// The session key is derived via HKDF-SHA256 from golang.org/x/crypto,
// the same dependency tree the teacher already carries, and is never
// persisted — it is always re-derived from the token.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/store"
	"github.com/tradingbotd/core/internal/vault"
)

const (
	tokenLen        = 32
	sessionKeyInfo  = "wallet-session-v1"
	defaultTTL      = 15 * time.Minute
	sessionBucket   = "wallet_session"
	passwordBucket  = "wallet_password_vault"
)

// hkdfSalt is a fixed domain-separator constant, per the spec.
var hkdfSalt = []byte("tradingbotd/wallet-session/salt/v1")

// wireRecord is the shared-store JSON form of a Session, matching the
// spec's external interface exactly: {session_token, user_ref, wallet_ref,
// session_ciphertext(base64), expires_at(ISO)}. The nonce travels inside
// the ciphertext blob so the documented JSON shape stays exactly these
// five fields.
type wireRecord struct {
	SessionToken string    `json:"session_token"`
	UserRef      string    `json:"user_ref"`
	WalletRef    string    `json:"wallet_ref"`
	Ciphertext   string    `json:"session_ciphertext"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Engine is the Session engine component.
type Engine struct {
	log   core.Logger
	st    store.Store
	vault *vault.Vault
	repo  vault.Repository
	ttl   time.Duration
}

// New constructs an Engine with the spec's default 15-minute TTL.
func New(log core.Logger, st store.Store, v *vault.Vault, repo vault.Repository) *Engine {
	return &Engine{log: log, st: st, vault: v, repo: repo, ttl: defaultTTL}
}

func sessionKeyFromToken(token string) ([]byte, error) {
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, err
	}
	kdf := hkdf.New(sha256.New, raw, hkdfSalt, []byte(sessionKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

func newToken() (string, error) {
	b := make([]byte, tokenLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func seal(key, plaintext []byte) (ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return sealed, nil
}

func open(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("session: ciphertext too short")
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, nil)
}

func sessionStoreKey(token string) string { return "wallet:session:" + token }

// Unlock derives the user's primary wallet's signing secret from password,
// re-encrypts it under a freshly derived session key, and stores the
// Session record. If storePassword is true, the password is additionally
// stashed in the PasswordVault under the same TTL.
func (e *Engine) Unlock(userRef, password string, storePassword bool) (sessionToken string, err error) {
	ek, gerr := e.repo.Primary(userRef)
	if gerr != nil {
		return "", core.NewError(core.CodeNoActiveWallet, "no primary wallet for user")
	}

	secret, derr := e.vault.DecryptForSession(ek, password)
	if derr != nil {
		return "", derr
	}

	token, terr := newToken()
	if terr != nil {
		return "", core.NewError(core.CodeEncryptionFailed, "token generation failed")
	}
	sessKey, kerr := sessionKeyFromToken(token)
	if kerr != nil {
		return "", core.NewError(core.CodeEncryptionFailed, "session key derivation failed")
	}
	defer zero(sessKey)

	var sealedErr error
	var sealed []byte
	werr := secret.WithPlaintext(func(plaintext []byte) error {
		sealed, sealedErr = seal(sessKey, plaintext)
		return sealedErr
	})
	if werr != nil || sealedErr != nil {
		return "", core.NewError(core.CodeEncryptionFailed, "session re-encryption failed")
	}

	wr := wireRecord{
		SessionToken: token,
		UserRef:      userRef,
		WalletRef:    ek.WalletID,
		Ciphertext:   base64.StdEncoding.EncodeToString(sealed),
		ExpiresAt:    time.Now().Add(e.ttl),
	}
	payload, jerr := json.Marshal(wr)
	if jerr != nil {
		return "", core.NewError(core.CodeEncryptionFailed, "session marshal failed")
	}
	if err := e.st.SetTTL(sessionBucket, sessionStoreKey(token), payload, e.ttl); err != nil {
		return "", core.NewError(core.CodeEncryptionFailed, "session persist failed")
	}

	if storePassword {
		if err := e.storePassword(token, password, sessKey); err != nil {
			e.log.Warnf("unlock: failed to store password vault entry for session %s: %v", token, err)
		}
	}

	e.log.Infof("session unlocked for user %s wallet %s", userRef, ek.WalletID)
	return token, nil
}

func (e *Engine) storePassword(token, password string, sessKey []byte) error {
	sealed, err := seal(sessKey, []byte(password))
	if err != nil {
		return err
	}
	return e.st.SetTTL(passwordBucket, sessionStoreKey(token), sealed, e.ttl)
}

// Sign fetches the session, re-derives the session key, decrypts the
// session ciphertext, and returns a scoped Secret. The caller must use
// the returned Secret's WithPlaintext, which zeroes the buffer on scope
// exit.
func (e *Engine) Sign(sessionToken string) (*vault.Secret, error) {
	raw, gerr := e.st.Get(sessionBucket, sessionStoreKey(sessionToken))
	if gerr == store.ErrNotFound {
		return nil, core.NewError(core.CodeSessionNotFound, "session not found")
	} else if gerr != nil {
		return nil, core.NewError(core.CodeSessionNotFound, "session lookup failed")
	}

	var wr wireRecord
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, core.NewError(core.CodeSessionNotFound, "corrupt session record")
	}
	if time.Now().After(wr.ExpiresAt) {
		_ = e.Destroy(sessionToken)
		return nil, core.NewError(core.CodeSessionExpired, "session expired")
	}

	sessKey, kerr := sessionKeyFromToken(sessionToken)
	if kerr != nil {
		return nil, core.NewError(core.CodeSessionNotFound, "session key derivation failed")
	}
	defer zero(sessKey)

	sealed, herr := base64.StdEncoding.DecodeString(wr.Ciphertext)
	if herr != nil {
		return nil, core.NewError(core.CodeInvalidPassword, "authentication failed")
	}
	plaintext, oerr := open(sessKey, sealed)
	if oerr != nil {
		return nil, core.NewError(core.CodeInvalidPassword, "authentication failed")
	}
	return vault.NewSecret(plaintext), nil
}

// Extend resets the session's TTL to the engine's configured duration.
func (e *Engine) Extend(sessionToken string) error {
	raw, err := e.st.Get(sessionBucket, sessionStoreKey(sessionToken))
	if err == store.ErrNotFound {
		return core.NewError(core.CodeSessionNotFound, "session not found")
	} else if err != nil {
		return err
	}
	var wr wireRecord
	if err := json.Unmarshal(raw, &wr); err != nil {
		return core.NewError(core.CodeSessionNotFound, "corrupt session record")
	}
	wr.ExpiresAt = time.Now().Add(e.ttl)
	payload, _ := json.Marshal(wr)
	return e.st.SetTTL(sessionBucket, sessionStoreKey(sessionToken), payload, e.ttl)
}

// Destroy removes the session entry and its paired PasswordVault entry.
// Calling Destroy on an already-destroyed token is a no-op, not an error.
func (e *Engine) Destroy(sessionToken string) error {
	if err := e.st.Delete(sessionBucket, sessionStoreKey(sessionToken)); err != nil {
		return err
	}
	return e.st.Delete(passwordBucket, sessionStoreKey(sessionToken))
}

// DestroyAllForUser is a best-effort sweep; the shared store does not
// index sessions by user, so callers that need this at scale should
// maintain their own user->tokens index. Exposed for completeness per
// the spec; here it is a documented limitation rather than a silent gap.
func (e *Engine) DestroyAllForUser(userRef string, knownTokens []string) {
	for _, tok := range knownTokens {
		_ = e.Destroy(tok)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
