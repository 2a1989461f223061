package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleNext(t *testing.T) {
	t.Parallel()

	s := DefaultSchedule()
	at := func(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		now    time.Time
		failed bool
		want   time.Duration
	}{
		{"before window", at(7, 59), false, 15 * time.Minute},
		{"window opens", at(8, 0), false, 5 * time.Minute},
		{"last active hour", at(16, 59), false, 5 * time.Minute},
		{"after window", at(17, 0), false, 15 * time.Minute},
		{"failure inside window", at(10, 0), true, time.Minute},
		{"failure outside window", at(22, 0), true, time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, s.Next(tt.now, tt.failed))
		})
	}
}

func TestScheduleUsesUTC(t *testing.T) {
	t.Parallel()

	ny := time.FixedZone("EST", -5*3600)
	// 04:00 in New York is 09:00 UTC.
	assert.True(t, DefaultSchedule().Active(time.Date(2025, 3, 10, 4, 0, 0, 0, ny)))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "EXECUTING", Executing.String())
	assert.Equal(t, "State(9)", State(9).String())
}
