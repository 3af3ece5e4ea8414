package gateway

import (
	"testing"
	"time"

	"github.com/voicelab/voicegate/internal/config"
)

func testLimiter(soft, hard int) (*chunkLimiter, *time.Time) {
	l := newChunkLimiter(config.LimitsConfig{
		MaxChunkBytes:       64 * 1024,
		SoftChunksPerWindow: soft,
		HardChunksPerWindow: hard,
		Window:              time.Second,
	})
	clock := time.Unix(0, 0)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestLimiterWarnsOnceThenCloses(t *testing.T) {
	l, _ := testLimiter(100, 200)

	for i := 1; i <= 100; i++ {
		if got := l.Observe(); got != limitAllow {
			t.Fatalf("chunk %d: verdict = %v, want allow", i, got)
		}
	}
	if got := l.Observe(); got != limitWarn {
		t.Fatalf("chunk 101: verdict = %v, want warn", got)
	}
	for i := 102; i <= 199; i++ {
		if got := l.Observe(); got != limitDrop {
			t.Fatalf("chunk %d: verdict = %v, want drop", i, got)
		}
	}
	if got := l.Observe(); got != limitClose {
		t.Fatalf("chunk 200: verdict = %v, want close", got)
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	l, clock := testLimiter(3, 10)

	for i := 0; i < 3; i++ {
		if got := l.Observe(); got != limitAllow {
			t.Fatalf("verdict = %v, want allow", got)
		}
	}
	if got := l.Observe(); got != limitWarn {
		t.Fatalf("verdict = %v, want warn past soft limit", got)
	}

	// Old stamps age out of the window and capacity recovers. The
	// warning stays spent for the connection's lifetime.
	*clock = clock.Add(2 * time.Second)
	if got := l.Observe(); got != limitAllow {
		t.Errorf("verdict after window slide = %v, want allow", got)
	}
	for i := 0; i < 3; i++ {
		l.Observe()
	}
	if got := l.Observe(); got != limitDrop {
		t.Errorf("second burst verdict = %v, want drop (warning already spent)", got)
	}
}
