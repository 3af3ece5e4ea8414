package gateway

import (
	"time"

	"github.com/voicelab/voicegate/internal/config"
)

// limitVerdict is the limiter's decision for one chunk.
type limitVerdict int

const (
	// limitAllow lets the chunk through.
	limitAllow limitVerdict = iota
	// limitWarn discards the chunk and asks for a one-time warning.
	limitWarn
	// limitDrop discards the chunk silently.
	limitDrop
	// limitClose discards the chunk and demands a connection close.
	limitClose
)

// chunkLimiter enforces a sliding-window chunk rate: a single warning
// past the soft threshold, silent drops beyond it, and a hard close at
// the abuse threshold. Not safe for concurrent use; the session's read
// loop is its only caller.
type chunkLimiter struct {
	soft   int
	hard   int
	window time.Duration

	stamps []time.Time
	warned bool
	now    func() time.Time
}

func newChunkLimiter(cfg config.LimitsConfig) *chunkLimiter {
	return &chunkLimiter{
		soft:   cfg.SoftChunksPerWindow,
		hard:   cfg.HardChunksPerWindow,
		window: cfg.Window,
		now:    time.Now,
	}
}

// Observe records one chunk arrival and returns the verdict for it.
func (l *chunkLimiter) Observe() limitVerdict {
	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.stamps = append(kept, now)
	count := len(l.stamps)

	switch {
	case count >= l.hard:
		return limitClose
	case count > l.soft && !l.warned:
		l.warned = true
		return limitWarn
	case count > l.soft:
		return limitDrop
	default:
		return limitAllow
	}
}
