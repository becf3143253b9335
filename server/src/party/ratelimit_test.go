package party

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimiterGeneralBucketRejects(t *testing.T) {
	clock := &fakeClock{t: 1000}
	limiter := newMessageLimiter(clock.now)

	for i := 0; i < int(generalBurst); i++ {
		require.Equal(t, limitAllow, limiter.admit(ChatType))
	}
	require.Equal(t, limitReject, limiter.admit(ChatType))
}

func TestLimiterHighFrequencyBucketDropsSilently(t *testing.T) {
	clock := &fakeClock{t: 1000}
	limiter := newMessageLimiter(clock.now)

	for i := 0; i < int(highFrequencyBurst); i++ {
		require.Equal(t, limitAllow, limiter.admit(PingType))
	}
	require.Equal(t, limitDropSilent, limiter.admit(PingType))
}

func TestLimiterBucketsAreIndependent(t *testing.T) {
	clock := &fakeClock{t: 1000}
	limiter := newMessageLimiter(clock.now)

	for i := 0; i < int(generalBurst); i++ {
		limiter.admit(ChatType)
	}
	require.Equal(t, limitReject, limiter.admit(ChatType))

	// Pings still flow after chat is throttled.
	require.Equal(t, limitAllow, limiter.admit(PingType))
	require.Equal(t, limitAllow, limiter.admit(SeekType))
	require.Equal(t, limitAllow, limiter.admit(BufferStartType))
}

func TestLimiterRefillsOverTime(t *testing.T) {
	clock := &fakeClock{t: 1000}
	limiter := newMessageLimiter(clock.now)

	for i := 0; i < int(generalBurst); i++ {
		limiter.admit(ChatType)
	}
	require.Equal(t, limitReject, limiter.admit(ChatType))

	clock.advance(0.5)
	require.Equal(t, limitAllow, limiter.admit(ChatType))
}
