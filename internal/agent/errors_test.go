package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateFingerprint_VariesWithContent(t *testing.T) {
	a := StateFingerprint([]string{"file contents: foo"})
	b := StateFingerprint([]string{"file contents: bar"})
	assert.NotEqual(t, a, b, "fingerprints over different facts must differ")
}

func TestStateFingerprint_StableForIdenticalContent(t *testing.T) {
	a := StateFingerprint([]string{"same", "facts"})
	b := StateFingerprint([]string{"same", "facts"})
	assert.Equal(t, a, b)
}

func TestStateFingerprint_NilAndEmptyAreStableButDistinctFromContent(t *testing.T) {
	nilFP := StateFingerprint(nil)
	emptyFP := StateFingerprint([]string{})
	contentFP := StateFingerprint([]string{"x"})
	assert.Equal(t, nilFP, emptyFP)
	assert.NotEqual(t, nilFP, contentFP)
}

func TestSalientFacts(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty input yields nil", "", nil},
		{"short input is returned as-is", "tool output here", []string{"tool output here"}},
		{"long input is truncated", strings.Repeat("a", salientFactsMaxLen+500), []string{strings.Repeat("a", salientFactsMaxLen)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := salientFacts(tc.raw)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestActionSignature_StableAcrossArgKeyOrder(t *testing.T) {
	sigA := ActionSignature("read", []byte(`{"path":"a.go","offset":1}`))
	sigB := ActionSignature("read", []byte(`{"offset":1,"path":"a.go"}`))
	assert.Equal(t, sigA, sigB)
}

func TestActionSignature_DiffersByTool(t *testing.T) {
	sigA := ActionSignature("read", []byte(`{"path":"a.go"}`))
	sigB := ActionSignature("grep", []byte(`{"path":"a.go"}`))
	assert.NotEqual(t, sigA, sigB)
}

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name string
		args []byte
		want string
	}{
		{"empty args become empty object", nil, "{}"},
		{"invalid json is hashed verbatim", []byte("not json"), "not json"},
		{"valid json is stable", []byte(`{"b":1,"a":2}`), `{"a":2,"b":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Canonicalize(tc.args))
		})
	}
}
