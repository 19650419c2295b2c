package payments

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestComputeFeeSplit(t *testing.T) {
	cases := []struct {
		name       string
		amount     int64
		feePercent int64
		fee        int64
		payee      int64
	}{
		{"exact hundred", 1000, 10, 100, 900},
		{"rounds up at half", 5, 10, 1, 4},
		{"half boundary again", 15, 10, 2, 13},
		{"rounds down below half", 995, 10, 100, 895},
		{"rounds up above half", 999, 10, 100, 899},
		{"zero percent", 1000, 0, 0, 1000},
		{"full percent", 1000, 100, 1000, 0},
		{"zero amount", 0, 10, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			split := ComputeFeeSplit(tc.amount, tc.feePercent)
			assert.Equal(t, tc.fee, split.PlatformFee)
			assert.Equal(t, tc.payee, split.PayeeAmount)
			assert.Equal(t, tc.amount, split.PlatformFee+split.PayeeAmount)
		})
	}
}

func TestComputeFeeSplit_Deterministic(t *testing.T) {
	first := ComputeFeeSplit(12345, 10)
	second := ComputeFeeSplit(12345, 10)
	assert.Equal(t, first, second)
}

func TestPayoutReference_CarriesJobID(t *testing.T) {
	jobID := uuid.New()
	ref := PayoutReference(jobID, 1700000000000000000)
	assert.True(t, strings.HasPrefix(ref, "payout-"+jobID.String()+"-"))
}
