package tariff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRates(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())

	for step := 0; step < 48; step++ {
		offset := time.Duration(step) * 30 * time.Minute
		hour := offset.Hours()
		if hour >= 18 && hour < 22 {
			assert.True(t, s.IsPeak(offset), "step %d", step)
			assert.Equal(t, 0.30, s.DollarsPerKWH(offset))
		} else {
			assert.False(t, s.IsPeak(offset), "step %d", step)
			assert.Equal(t, 0.10, s.DollarsPerKWH(offset))
		}
	}
}

func TestWindowValidate(t *testing.T) {
	assert.Error(t, Window{Start: 22 * time.Hour, End: 18 * time.Hour}.Validate())
	assert.Error(t, Window{Start: 22 * time.Hour, End: 25 * time.Hour}.Validate())
	assert.NoError(t, Window{Start: 22 * time.Hour, End: Day}.Validate())
}

func TestOffsetOf(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	ts := time.Date(2025, 6, 15, 18, 30, 0, 0, loc)
	assert.Equal(t, 18*time.Hour+30*time.Minute, OffsetOf(ts))
	assert.Equal(t, "18:30", FormatOffset(OffsetOf(ts)))
	assert.Equal(t, "00:00", FormatOffset(0))
	assert.Equal(t, "23:30", FormatOffset(47*30*time.Minute))
}
