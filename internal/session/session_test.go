package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingbotd/core/internal/core"
	"github.com/tradingbotd/core/internal/store"
	"github.com/tradingbotd/core/internal/vault"
)

func newTestEngine(t *testing.T) (*Engine, *vault.Vault, string) {
	t.Helper()
	repo := vault.NewMemRepository()
	v := vault.New(core.NoopLogger{}, repo)
	st := store.NewMemStore()
	ek, err := v.CreateWallet("user-1", "correcthorse9", "")
	require.NoError(t, err)
	eng := New(core.NoopLogger{}, st, v, repo)
	return eng, v, ek.WalletID
}

func TestUnlockSignRoundTrip(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	token, err := eng.Unlock("user-1", "correcthorse9", true)
	require.NoError(t, err)
	assert.Len(t, token, 64) // 32 random bytes hex-encoded

	secret, err := eng.Sign(token)
	require.NoError(t, err)
	err = secret.WithPlaintext(func(p []byte) error {
		assert.Len(t, p, 64)
		return nil
	})
	require.NoError(t, err)
}

func TestSessionNeverContainsPlaintextSecretOrPassword(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	token, err := eng.Unlock("user-1", "correcthorse9", true)
	require.NoError(t, err)

	raw, err := eng.st.Get(sessionBucket, sessionStoreKey(token))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "correcthorse9"))

	pwRaw, err := eng.st.Get(passwordBucket, sessionStoreKey(token))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(pwRaw), "correcthorse9"), "password vault entry must be encrypted, not plaintext")
}

func TestDestroyIsIdempotent(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	token, err := eng.Unlock("user-1", "correcthorse9", true)
	require.NoError(t, err)

	require.NoError(t, eng.Destroy(token))
	require.NoError(t, eng.Destroy(token)) // destroying twice is not an error

	_, err = eng.Sign(token)
	require.Error(t, err)
	assert.Equal(t, core.CodeSessionNotFound, core.CodeOf(err))
}

func TestExpiredSessionFailsClosed(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	eng.ttl = 10 * time.Millisecond
	token, err := eng.Unlock("user-1", "correcthorse9", false)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = eng.Sign(token)
	require.Error(t, err)
	assert.Equal(t, core.CodeSessionExpired, core.CodeOf(err))
}

func TestWrongPasswordOnUnlockFails(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.Unlock("user-1", "wrongpassword1", false)
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidPassword, core.CodeOf(err))
}
