package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		timestamp   string
		wantHour    int
		wantWeekday int
	}{
		{"monday afternoon", "2024-03-04 13:45:00", 13, 0},
		{"sunday midnight", "2024-03-10 00:00:00", 0, 6},
		{"saturday late", "2024-03-09 23:59:59", 23, 5},
		{"leap day", "2024-02-29 07:00:00", 7, 3},
		{"new year 2000", "2000-01-01 12:00:00", 12, 5},
		{"earliest year", "0001-01-01 00:00:00", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.timestamp)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHour, got.Hour)
			assert.Equal(t, tt.wantWeekday, got.Weekday)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		timestamp string
	}{
		{"month 13", "2024-13-01 00:00:00"},
		{"february 30", "2024-02-30 10:00:00"},
		{"not a leap year", "2023-02-29 10:00:00"},
		{"hour 24", "2024-01-01 24:00:00"},
		{"minute 60", "2024-01-01 10:60:00"},
		{"single digit hour", "2024-01-01 1:00:00"},
		{"single digit month", "2024-1-01 10:00:00"},
		{"iso T separator", "2024-01-01T10:00:00"},
		{"slashes", "2024/01/01 10:00:00"},
		{"fractional seconds", "2024-01-01 10:00:00.5"},
		{"timezone suffix", "2024-01-01 10:00:00Z"},
		{"date only", "2024-01-01"},
		{"trailing space", "2024-01-01 10:00:00 "},
		{"empty", ""},
		{"year zero", "0000-01-01 00:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.timestamp)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTimestamp))
			assert.Contains(t, err.Error(), "YYYY-MM-DD HH:MM:SS")
		})
	}
}

func TestBuild(t *testing.T) {
	vec := Build(42.5, TemporalFeatures{Hour: 13, Weekday: 0})

	require.Len(t, vec, VectorLen)
	assert.Equal(t, FeatureVector{42.5, 13, 0}, vec)
}

func TestBuild_NoScaling(t *testing.T) {
	vec := Build(-1e9, TemporalFeatures{Hour: 23, Weekday: 6})
	assert.Equal(t, -1e9, vec[0])
	assert.Equal(t, 23.0, vec[1])
	assert.Equal(t, 6.0, vec[2])
}
