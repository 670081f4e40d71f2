// Package models tests for label token handling.
package models

import (
	"reflect"
	"testing"
)

// TestLabelsApply verifies +/- token parsing for known and unknown
// label names.
func TestLabelsApply(t *testing.T) {
	tests := []struct {
		name  string
		token string
		ok    bool
		check func(l Labels) bool
	}{
		{"add owned", "+owned", true, func(l Labels) bool { return l.Owned }},
		{"remove shared", "-shared", true, func(l Labels) bool { return !l.Shared }},
		{"add viewed", "+viewed", true, func(l Labels) bool { return l.Viewed }},
		{"case folds", "+OWNED", true, func(l Labels) bool { return l.Owned }},
		{"unknown add", "+starred", true, func(l Labels) bool { return l.Extra["starred"] }},
		{"unknown remove", "-starred", true, func(l Labels) bool {
			on, ok := l.Extra["starred"]
			return ok && !on
		}},
		{"no sign", "owned", false, nil},
		{"empty", "", false, nil},
		{"bare sign", "+", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l Labels
			if got := l.Apply(tt.token); got != tt.ok {
				t.Fatalf("Apply(%q) = %v, want %v", tt.token, got, tt.ok)
			}
			if tt.check != nil && !tt.check(l) {
				t.Errorf("Apply(%q) left unexpected state %+v", tt.token, l)
			}
		})
	}
}

// TestLabelsMergeLastWriterWins verifies that later tokens for the same
// name override earlier ones.
func TestLabelsMergeLastWriterWins(t *testing.T) {
	var l Labels
	l.Merge([]string{"+shared", "-shared", "+fav", "-fav", "+fav"})

	if l.Shared {
		t.Error("shared should be off after -shared")
	}
	if !l.Extra["fav"] {
		t.Error("fav should be on after trailing +fav")
	}
}

// TestLabelsMergeIdempotent verifies that re-applying a token list is a
// no-op.
func TestLabelsMergeIdempotent(t *testing.T) {
	tokens := []string{"+owned", "+shared", "-old", "+viewed"}

	var l Labels
	l.Merge(tokens)
	snapshot := l
	l.Merge(tokens)

	if !l.Equal(snapshot) {
		t.Errorf("second merge changed labels: %+v vs %+v", l, snapshot)
	}
}

// TestLabelsTokensRoundTrip verifies the canonical token list survives a
// merge into a fresh set.
func TestLabelsTokensRoundTrip(t *testing.T) {
	var l Labels
	l.Merge([]string{"+owned", "+viewed", "+fav", "-old"})

	var other Labels
	other.Merge(l.Tokens())

	if !l.Equal(other) {
		t.Errorf("token round trip mismatch: %+v vs %+v", l, other)
	}
}

// TestLabelsTokensSorted verifies canonical ordering.
func TestLabelsTokensSorted(t *testing.T) {
	var l Labels
	l.Merge([]string{"+viewed", "+owned", "-zzz", "+aaa"})

	want := []string{"+aaa", "+owned", "+viewed", "-zzz"}
	if got := l.Tokens(); !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens() = %v, want %v", got, want)
	}
}
