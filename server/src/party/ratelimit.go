package party

const (
	highFrequencyRate  = 30.0
	generalRate        = 10.0
	highFrequencyBurst = 30.0
	generalBurst       = 10.0
)

type limitVerdict int

const (
	limitAllow limitVerdict = iota
	// High-frequency traffic over budget is dropped without a reply; an error
	// frame per dropped ping would just add to the flood.
	limitDropSilent
	limitReject
)

// messageLimiter is a pair of token buckets owned by one connection's read
// loop, so no locking. Pings, seeks and buffer reports burn the generous
// bucket; everything else the strict one.
type messageLimiter struct {
	highTokens float64
	genTokens  float64
	lastRefill float64
	now        func() float64
}

func newMessageLimiter(now func() float64) *messageLimiter {
	return &messageLimiter{
		highTokens: highFrequencyBurst,
		genTokens:  generalBurst,
		lastRefill: now(),
		now:        now,
	}
}

func isHighFrequency(t MessageType) bool {
	switch t {
	case PingType, SeekType, SeekReadyType, BufferStartType, BufferEndType:
		return true
	}
	return false
}

func (l *messageLimiter) admit(t MessageType) limitVerdict {
	now := l.now()
	elapsed := now - l.lastRefill
	l.lastRefill = now

	l.highTokens += elapsed * highFrequencyRate
	if l.highTokens > highFrequencyBurst {
		l.highTokens = highFrequencyBurst
	}
	l.genTokens += elapsed * generalRate
	if l.genTokens > generalBurst {
		l.genTokens = generalBurst
	}

	if isHighFrequency(t) {
		if l.highTokens < 1 {
			return limitDropSilent
		}
		l.highTokens--
		return limitAllow
	}

	if l.genTokens < 1 {
		return limitReject
	}
	l.genTokens--
	return limitAllow
}
