package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradingbotd/core/internal/core"
)

type fakeTransport struct {
	mtx       sync.Mutex
	frames    [][]byte
	idx       int
	connects  int
	connErr   error
	closeErr  error
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.connects++
	return f.connErr
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.idx >= len(f.frames) {
		return nil, errors.New("fakeTransport: exhausted")
	}
	msg := f.frames[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeTransport) Close() error { return f.closeErr }

func TestSourceEmitsParsedEvents(t *testing.T) {
	transport := &fakeTransport{frames: [][]byte{[]byte("sub-ack"), []byte("token:FOO")}}
	parse := func(raw []byte) ([]NewTokenEvent, []RawPoolDetection, error) {
		if string(raw) == "sub-ack" {
			return nil, nil, nil
		}
		return []NewTokenEvent{{Mint: "FOO", Signature: "sig1"}}, nil, nil
	}

	var got []NewTokenEvent
	var mtx sync.Mutex
	src := New("test-source", core.NoopLogger{}, transport, parse, nil)
	src.OnNewToken(func(e NewTokenEvent) {
		mtx.Lock()
		got = append(got, e)
		mtx.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	src.Run(ctx)

	mtx.Lock()
	defer mtx.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "FOO", got[0].Mint)
	assert.Equal(t, "test-source", got[0].Source)
	assert.Equal(t, uint64(0), src.ParseErrors())
}

func TestSourceCountsParseErrorsWithoutStopping(t *testing.T) {
	transport := &fakeTransport{frames: [][]byte{[]byte("bad"), []byte("good")}}
	calls := 0
	parse := func(raw []byte) ([]NewTokenEvent, []RawPoolDetection, error) {
		calls++
		if string(raw) == "bad" {
			return nil, nil, errors.New("malformed")
		}
		return []NewTokenEvent{{Mint: "OK"}}, nil, nil
	}

	src := New("s", core.NoopLogger{}, transport, parse, nil)
	var got int
	src.OnNewToken(func(NewTokenEvent) { got++ })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	src.Run(ctx)

	assert.Equal(t, uint64(1), src.ParseErrors())
	assert.Equal(t, 1, got)
}

func TestBackoffNextDelayRespectsCap(t *testing.T) {
	b := BackoffConfig{Base: time.Second, Cap: 5 * time.Second, MaxAttempts: 10}
	for attempt := 0; attempt < 10; attempt++ {
		d := b.nextDelay(attempt)
		assert.LessOrEqual(t, d, b.Cap)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestCanonicalBaseQuotePrefersWrappedSOL(t *testing.T) {
	base, quote := CanonicalBaseQuote("RandoMint111", wrappedSOLMint)
	assert.Equal(t, "RandoMint111", base)
	assert.Equal(t, wrappedSOLMint, quote)
}

func TestCanonicalBaseQuoteFallsBackToAlphabetical(t *testing.T) {
	base, quote := CanonicalBaseQuote("AAA", "BBB")
	assert.Equal(t, "AAA", base)
	assert.Equal(t, "BBB", quote)
}

func TestIsPoolCreationLogMatchesKnownInstructions(t *testing.T) {
	assert.True(t, IsPoolCreationLog("Program log: Instruction: InitializePoolV2"))
	assert.True(t, IsPoolCreationLog("Program log: initialize2"))
	assert.False(t, IsPoolCreationLog("Program log: Transfer"))
}
