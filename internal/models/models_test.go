package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from RequestStatus
		to   RequestStatus
		want bool
	}{
		{RequestStatusPending, RequestStatusProcessing, true},
		{RequestStatusPending, RequestStatusCompleted, false},
		{RequestStatusPending, RequestStatusFailed, false},
		{RequestStatusProcessing, RequestStatusCompleted, true},
		{RequestStatusProcessing, RequestStatusFailed, true},
		{RequestStatusProcessing, RequestStatusPending, true},
		{RequestStatusCompleted, RequestStatusPending, false},
		{RequestStatusCompleted, RequestStatusProcessing, false},
		{RequestStatusFailed, RequestStatusProcessing, false},
		{RequestStatusFailed, RequestStatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to),
			"transition %s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, RequestStatusPending.IsTerminal())
	assert.False(t, RequestStatusProcessing.IsTerminal())
	assert.True(t, RequestStatusCompleted.IsTerminal())
	assert.True(t, RequestStatusFailed.IsTerminal())
}

func TestMaskedNIK(t *testing.T) {
	r := &VerificationRequest{NIK: "3171012501900001"}
	assert.Equal(t, "3171**********01", r.MaskedNIK())
	assert.Len(t, r.MaskedNIK(), 16)

	malformed := &VerificationRequest{NIK: "123"}
	assert.Equal(t, "****", malformed.MaskedNIK())
}

func TestOutstanding(t *testing.T) {
	for _, status := range []RequestStatus{RequestStatusPending, RequestStatusProcessing} {
		r := &VerificationRequest{Status: status}
		assert.True(t, r.Outstanding(), "status %s", status)
	}
	for _, status := range []RequestStatus{RequestStatusCompleted, RequestStatusFailed} {
		r := &VerificationRequest{Status: status}
		assert.False(t, r.Outstanding(), "status %s", status)
	}
}
