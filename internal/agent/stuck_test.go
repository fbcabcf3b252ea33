package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStuckDetector_RecordAction_LoopDetection(t *testing.T) {
	d := newStuckDetector(StuckConfig{LoopWindow: 8, LoopRepeatThreshold: 3})

	assert.False(t, d.RecordAction("sig-a"))
	assert.False(t, d.RecordAction("sig-b"))
	assert.False(t, d.RecordAction("sig-a"))
	assert.True(t, d.RecordAction("sig-a"), "third repeat of sig-a within the window must fire")
}

func TestStuckDetector_RecordAction_WindowEviction(t *testing.T) {
	d := newStuckDetector(StuckConfig{LoopWindow: 2, LoopRepeatThreshold: 2})

	assert.False(t, d.RecordAction("sig-a"))
	assert.False(t, d.RecordAction("sig-b")) // window is [sig-a, sig-b]
	assert.False(t, d.RecordAction("sig-c")) // evicts sig-a; window is [sig-b, sig-c]
	assert.False(t, d.RecordAction("sig-a")) // sig-a reappears but history of it was evicted; window is [sig-c, sig-a]
}

func TestStuckDetector_RecordStateFingerprint(t *testing.T) {
	d := newStuckDetector(StuckConfig{NoStateChangeThreshold: 3})

	assert.False(t, d.RecordStateFingerprint("fp1"))
	assert.False(t, d.RecordStateFingerprint("fp1"))
	assert.True(t, d.RecordStateFingerprint("fp1"), "third repeat in a row must fire")
}

func TestStuckDetector_RecordStateFingerprint_ChangeResetsRun(t *testing.T) {
	d := newStuckDetector(StuckConfig{NoStateChangeThreshold: 3})

	assert.False(t, d.RecordStateFingerprint("fp1"))
	assert.False(t, d.RecordStateFingerprint("fp1"))
	assert.False(t, d.RecordStateFingerprint("fp2"), "a changed fingerprint resets the repeat run")
	assert.False(t, d.RecordStateFingerprint("fp2"))
}

func TestStuckDetector_NoProgress(t *testing.T) {
	cases := []struct {
		name                string
		threshold           int
		consecutiveFailures int
		want                bool
	}{
		{"below threshold", 3, 2, false},
		{"at threshold", 3, 3, true},
		{"above threshold", 3, 5, true},
		{"zero threshold disables the check", 0, 100, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newStuckDetector(StuckConfig{NoProgressThreshold: tc.threshold})
			assert.Equal(t, tc.want, d.NoProgress(tc.consecutiveFailures))
		})
	}
}

func TestStuckDetector_Reset(t *testing.T) {
	d := newStuckDetector(StuckConfig{LoopWindow: 8, LoopRepeatThreshold: 3, NoStateChangeThreshold: 3})
	d.RecordAction("sig-a")
	d.RecordAction("sig-a")
	d.RecordStateFingerprint("fp1")
	d.RecordStateFingerprint("fp1")
	d.Reset()

	// Without the reset, one more of each would hit its threshold (3rd in a
	// row); after reset both windows must start over from zero.
	assert.False(t, d.RecordAction("sig-a"), "reset must clear the action window")
	assert.False(t, d.RecordStateFingerprint("fp1"), "reset must clear the fingerprint run")
}
