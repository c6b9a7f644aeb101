package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskDestination(t *testing.T) {
	cases := []struct {
		destination string
		expected    string
	}{
		{"DE89370400440532013000", "******************3000"},
		{"12345", "*2345"},
		{"1234", "1234"},
		{"123", "123"},
		{"", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, MaskDestination(tc.destination))
	}
}

func TestWithdrawalRequest_Masked(t *testing.T) {
	req := WithdrawalRequest{
		ID:          "wr-1",
		Destination: "DE89370400440532013000",
	}

	masked := req.Masked()
	assert.Equal(t, "******************3000", masked.Destination)
	// Original is untouched.
	assert.Equal(t, "DE89370400440532013000", req.Destination)
}

func TestWithdrawalStatus_Reserving(t *testing.T) {
	reserving := []WithdrawalStatus{
		WithdrawalStatusPendingApproval,
		WithdrawalStatusApproved,
		WithdrawalStatusProcessing,
	}
	released := []WithdrawalStatus{
		WithdrawalStatusCompleted,
		WithdrawalStatusRejected,
	}

	for _, s := range reserving {
		assert.True(t, s.Reserving(), "%s should reserve funds", s)
	}
	for _, s := range released {
		assert.False(t, s.Reserving(), "%s should release funds", s)
	}
}
