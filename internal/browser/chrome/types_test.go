package chrome

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceStatus_String(t *testing.T) {
	tests := []struct {
		status   InstanceStatus
		expected string
	}{
		{StatusIdle, "idle"},
		{StatusScraping, "scraping"},
		{StatusRestarting, "restarting"},
		{StatusDead, "dead"},
		{InstanceStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}
