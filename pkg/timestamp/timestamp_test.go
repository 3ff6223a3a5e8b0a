package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	refTime := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	refMs := refTime.UnixMilli()

	tests := []struct {
		name     string
		input    any
		expected int64
	}{
		{"nil", nil, 0},
		{"zero int64", int64(0), 0},
		{"milliseconds int64", refMs, refMs},
		{"seconds int64", refTime.Unix(), refMs},
		{"milliseconds float64", float64(refMs), refMs},
		{"seconds float64", float64(refTime.Unix()), refMs},
		{"rfc3339 string", "2025-03-15T12:00:00Z", refMs},
		{"unix seconds string", "1742040000", 1742040000000},
		{"empty string", "", 0},
		{"garbage string", "not-a-time", 0},
		{"time.Time", refTime, refMs},
		{"unsupported type", struct{}{}, 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Parse(test.input))
		})
	}
}

func TestBetween(t *testing.T) {
	start := int64(1000000000000)
	end := start + 5000

	assert.Equal(t, 5*time.Second, Between(start, end))
	assert.Equal(t, -5*time.Second, Between(end, start))
	assert.Equal(t, time.Duration(0), Between(0, end))
	assert.Equal(t, time.Duration(0), Between(start, 0))
}

func TestFormatRoundTrip(t *testing.T) {
	ms := int64(1742040000000)
	formatted := Format(ms)
	assert.Equal(t, ms, Parse(formatted))
	assert.Equal(t, "", Format(0))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Now()))
	assert.NoError(t, Validate(0))
	assert.Error(t, Validate(-1))
	assert.Error(t, Validate(32503680000001))
}
