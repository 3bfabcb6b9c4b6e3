package runview

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"PASSED", StatusPassed},
		{"FINISHED", StatusPassed},
		{"FAILED", StatusFailed},
		{"ERROR", StatusFailed},
		{"PENDING", StatusPending},
		{"RUNNING", StatusPending},
		{" finished ", StatusPassed},
		{"CANCELLED", StatusPending},
		{"", StatusPending},
		{"SOMETHING_NEW", StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.in))
		})
	}
}

func TestStatusIsPending(t *testing.T) {
	assert.True(t, StatusPending.IsPending())
	assert.False(t, StatusPassed.IsPending())
	assert.False(t, StatusFailed.IsPending())
}
