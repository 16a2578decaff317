package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingbotd/core/internal/core"
)

func newTestVault() (*Vault, *MemRepository) {
	repo := NewMemRepository()
	return New(core.NoopLogger{}, repo), repo
}

func TestPasswordPolicy(t *testing.T) {
	cases := []struct {
		pw string
		ok bool
	}{
		{"short1", false},
		{"nodigitshere", false},
		{"12345678", false},
		{"valid1pass", true},
	}
	for _, c := range cases {
		err := ValidatePasswordPolicy(c.pw)
		if c.ok {
			assert.Nil(t, err, c.pw)
		} else {
			require.NotNil(t, err, c.pw)
			assert.Equal(t, core.CodeInvalidPassword, err.Code)
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, _ := newTestVault()
	ek, err := v.CreateWallet("user-1", "correcthorse9", "")
	require.NoError(t, err)

	secret, err := v.DecryptForSession(ek, "correcthorse9")
	require.NoError(t, err)
	assert.Equal(t, 64, secret.Len())

	var captured []byte
	err = secret.WithPlaintext(func(p []byte) error {
		captured = append([]byte(nil), p...)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, captured, 64)
}

func TestWrongPasswordAndTamperReportSameCode(t *testing.T) {
	v, _ := newTestVault()
	ek, err := v.CreateWallet("user-1", "correcthorse9", "")
	require.NoError(t, err)

	_, wrongPwErr := v.DecryptForSession(ek, "wrongpassword1")
	require.Error(t, wrongPwErr)

	tampered := *ek
	tampered.Ciphertext = append([]byte(nil), ek.Ciphertext...)
	tampered.Ciphertext[0] ^= 0xFF
	_, tamperErr := v.DecryptForSession(&tampered, "correcthorse9")
	require.Error(t, tamperErr)

	assert.Equal(t, core.CodeOf(wrongPwErr), core.CodeOf(tamperErr))
}

func TestFirstWalletIsPrimary(t *testing.T) {
	v, repo := newTestVault()
	ek1, err := v.CreateWallet("user-1", "correcthorse9", "")
	require.NoError(t, err)
	assert.True(t, ek1.IsPrimary)

	ek2, err := v.CreateWallet("user-1", "correcthorse9", "")
	require.NoError(t, err)
	assert.False(t, ek2.IsPrimary)

	require.NoError(t, v.RotatePrimary("user-1", ek2.WalletID))
	primary, err := repo.Primary("user-1")
	require.NoError(t, err)
	assert.Equal(t, ek2.WalletID, primary.WalletID)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	v, _ := newTestVault()
	ek, err := v.CreateWallet("user-1", "correcthorse9", "")
	require.NoError(t, err)

	env := ek.Envelope()
	salt, nonce, tag, ct, err := ParseEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, ek.Salt, salt)
	assert.Equal(t, ek.Nonce, nonce)
	assert.Equal(t, ek.AuthTag, tag)
	assert.Equal(t, ek.Ciphertext, ct)
}
