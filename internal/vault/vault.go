// Package vault implements WalletVault: persistent encrypted key storage,
// password-derived key encryption, and the scoped-secret discipline the
// spec requires. Argon2id and the envelope shape are grounded on
// golang.org/x/crypto, already a direct dependency of the teacher. The
// AEAD itself (AES-256-GCM) is stdlib crypto/cipher, matching the
// teacher's own practice of reaching for stdlib crypto primitives
// (crypto/tls, crypto/elliptic) rather than a third-party AEAD wrapper.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/decred/base58"
	"golang.org/x/crypto/argon2"

	"github.com/tradingbotd/core/internal/core"
)

const (
	saltLen    = 32
	nonceLen   = 12
	authTagLen = 16
	keyLen     = 32 // AES-256

	// Argon2id parameters tuned to take >=30ms on commodity hardware, per
	// the spec. Stored alongside the ciphertext so they may be changed
	// later without breaking existing envelopes.
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 2
)

// Secret is a scoped holder for plaintext key material. The only way to
// use the bytes is through WithPlaintext; no getter ever returns a copy,
// and the buffer is zeroed unconditionally when the scope exits — this is
// the "impossible to leak through misuse" API the spec's design notes
// require.
type Secret struct {
	buf []byte
}

func newSecret(b []byte) *Secret { return &Secret{buf: b} }

// NewSecret wraps plaintext key material in a scoped Secret. It is
// exported for use by the session engine, which decrypts a session's
// re-encrypted secret and hands it back through this same scoped-access
// discipline rather than a bare byte slice.
func NewSecret(b []byte) *Secret { return newSecret(b) }

// WithPlaintext invokes fn with the plaintext bytes, then zeroes the
// buffer before returning, regardless of whether fn panics.
func (s *Secret) WithPlaintext(fn func(plaintext []byte) error) error {
	defer s.zero()
	return fn(s.buf)
}

// Len reports the plaintext length without exposing the bytes.
func (s *Secret) Len() int { return len(s.buf) }

func (s *Secret) zero() {
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// EncryptedKey is the persistent envelope plus its metadata, mirroring
// §3's EncryptedKey record.
type EncryptedKey struct {
	UserRef    string
	WalletID   string
	Address    string // base58 public key
	Ciphertext []byte
	Salt       [saltLen]byte
	Nonce      [nonceLen]byte
	AuthTag    [authTagLen]byte
	CreatedAt  time.Time
	IsPrimary  bool
	IsActive   bool
	TimesUsed  uint64
	LastUsedAt time.Time

	// ArgonTime/Memory/Threads are stored so derivation parameters can be
	// changed over time without invalidating existing envelopes.
	ArgonTime    uint32
	ArgonMemory  uint32
	ArgonThreads uint8
}

// Envelope serializes the four binary fields into the spec's
// salt‖nonce‖auth_tag‖ciphertext textual form: four base64 segments
// joined with ':'.
func (k *EncryptedKey) Envelope() string {
	seg := func(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
	return strings.Join([]string{
		seg(k.Salt[:]), seg(k.Nonce[:]), seg(k.AuthTag[:]), seg(k.Ciphertext),
	}, ":")
}

// ParseEnvelope reverses Envelope.
func ParseEnvelope(s string) (salt [saltLen]byte, nonce [nonceLen]byte, tag [authTagLen]byte, ciphertext []byte, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		err = fmt.Errorf("vault: malformed envelope: expected 4 segments, got %d", len(parts))
		return
	}
	dec := func(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
	sb, e1 := dec(parts[0])
	nb, e2 := dec(parts[1])
	tb, e3 := dec(parts[2])
	cb, e4 := dec(parts[3])
	for _, e := range []error{e1, e2, e3, e4} {
		if e != nil {
			err = e
			return
		}
	}
	if len(sb) != saltLen || len(nb) != nonceLen || len(tb) != authTagLen {
		err = fmt.Errorf("vault: malformed envelope: wrong field length")
		return
	}
	copy(salt[:], sb)
	copy(nonce[:], nb)
	copy(tag[:], tb)
	ciphertext = cb
	return
}

// ValidatePasswordPolicy rejects passwords before derivation is ever
// attempted: length in [8, 128], at least one letter and one digit.
func ValidatePasswordPolicy(password string) *core.Error {
	if len(password) < 8 || len(password) > 128 {
		return core.NewError(core.CodeInvalidPassword, "password must be between 8 and 128 characters")
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return core.NewError(core.CodeInvalidPassword, "password must contain at least one letter and one digit")
	}
	return nil
}

func deriveKey(password string, salt []byte, t, m uint32, p uint8) []byte {
	return argon2.IDKey([]byte(password), salt, t, m, p, keyLen)
}

func aeadSeal(key, nonce, plaintext []byte) (ciphertext, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, authTagLen)
	if err != nil {
		return nil, nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ctLen := len(sealed) - authTagLen
	return sealed[:ctLen], sealed[ctLen:], nil
}

func aeadOpen(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, authTagLen)
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	return gcm.Open(nil, nonce, sealed, nil)
}

// Vault is the WalletVault component: it generates Ed25519 signing keys,
// encrypts them under a password-derived key, and decrypts them back out
// for re-encryption under a session key (see package session).
type Vault struct {
	log   core.Logger
	repo  Repository
}

// Repository persists and retrieves EncryptedKey records. Implemented
// concretely by internal/db against MySQL via GORM.
type Repository interface {
	Save(*EncryptedKey) error
	Get(userRef, walletID string) (*EncryptedKey, error)
	Primary(userRef string) (*EncryptedKey, error)
	SetPrimary(userRef, walletID string) error
	List(userRef string) ([]*EncryptedKey, error)
}

// New constructs a Vault.
func New(log core.Logger, repo Repository) *Vault {
	return &Vault{log: log, repo: repo}
}

// CreateWallet generates a fresh Ed25519 signing key, encrypts it under a
// key derived from password, and persists the EncryptedKey.
func (v *Vault) CreateWallet(userRef, password, label string) (*EncryptedKey, error) {
	if perr := ValidatePasswordPolicy(password); perr != nil {
		return nil, perr
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, core.NewError(core.CodeEncryptionFailed, "key generation failed")
	}
	// priv is the 64-byte expanded Ed25519 secret (seed‖pubkey); the spec
	// accepts either the 32-byte seed or the 64-byte expanded form.
	secret := []byte(priv)
	defer zeroBytes(secret)

	ek, err := v.encryptSecret(userRef, label, pub, secret, password)
	if err != nil {
		return nil, err
	}
	existing, _ := v.repo.List(userRef)
	ek.IsPrimary = len(existing) == 0

	if err := v.repo.Save(ek); err != nil {
		return nil, core.NewError(core.CodeEncryptionFailed, "persist failed: %v", err)
	}
	v.log.Infof("created wallet %s for user %s (primary=%v)", ek.WalletID, userRef, ek.IsPrimary)
	return ek, nil
}

func (v *Vault) encryptSecret(userRef, walletID string, pub ed25519.PublicKey, secret []byte, password string) (*EncryptedKey, error) {
	var salt [saltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, core.NewError(core.CodeEncryptionFailed, "salt generation failed")
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, core.NewError(core.CodeEncryptionFailed, "nonce generation failed")
	}

	key := deriveKey(password, salt[:], argonTime, argonMemory, argonThreads)
	defer zeroBytes(key)

	ciphertext, tag, err := aeadSeal(key, nonce[:], secret)
	if err != nil {
		return nil, core.NewError(core.CodeEncryptionFailed, "seal failed")
	}

	ek := &EncryptedKey{
		UserRef:      userRef,
		WalletID:     walletID,
		Address:      base58.Encode(pub),
		Ciphertext:   ciphertext,
		Salt:         salt,
		Nonce:        nonce,
		CreatedAt:    time.Now(),
		IsActive:     true,
		ArgonTime:    argonTime,
		ArgonMemory:  argonMemory,
		ArgonThreads: argonThreads,
	}
	copy(ek.AuthTag[:], tag)
	if ek.WalletID == "" {
		ek.WalletID = ek.Address
	}
	return ek, nil
}

// DecryptForSession authenticates password against the stored envelope
// and returns a scoped Secret holding the signing material. Authentication
// failure and wrong-ciphertext failure are reported with the identical
// code, so a caller cannot distinguish "wrong password" from "tampered
// ciphertext".
func (v *Vault) DecryptForSession(ek *EncryptedKey, password string) (*Secret, error) {
	key := deriveKey(password, ek.Salt[:], argonOr(ek.ArgonTime, argonTime), argonOr32(ek.ArgonMemory, argonMemory), argonOr8(ek.ArgonThreads, argonThreads))
	defer zeroBytes(key)

	plaintext, err := aeadOpen(key, ek.Nonce[:], ek.Ciphertext, ek.AuthTag[:])
	if err != nil {
		return nil, core.NewError(core.CodeInvalidPassword, "authentication failed")
	}
	if len(plaintext) != 32 && len(plaintext) != 64 {
		zeroBytes(plaintext)
		return nil, core.NewError(core.CodeInvalidPassword, "authentication failed")
	}
	return newSecret(plaintext), nil
}

// RotatePrimary marks newWalletRef as the user's primary wallet.
func (v *Vault) RotatePrimary(userRef, newWalletRef string) error {
	if _, err := v.repo.Get(userRef, newWalletRef); err != nil {
		return core.NewError(core.CodeWalletNotOwned, "wallet %s not owned by user", newWalletRef)
	}
	return v.repo.SetPrimary(userRef, newWalletRef)
}

func argonOr(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}
func argonOr32(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}
func argonOr8(v, def uint8) uint8 {
	if v == 0 {
		return def
	}
	return v
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
