package frequency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Frequency
	}{
		{"once word", "Once daily", OnceDaily},
		{"twice word", "twice a day", TwiceDaily},
		{"three word", "Three times daily", ThreeTimesDaily},
		{"upper case", "TWICE DAILY", TwiceDaily},
		{"digit two", "2 times a day", TwiceDaily},
		{"digit three", "3x daily", OnceDaily},
		{"digit three token", "3 x daily", ThreeTimesDaily},
		{"digit one", "1 tablet", OnceDaily},
		{"empty", "", OnceDaily},
		{"whitespace", "   ", OnceDaily},
		{"unrecognized", "as needed", OnceDaily},
		{"hours not digit token", "every 12 hours", OnceDaily},
		{"once wins over two", "once or 2", OnceDaily},
		{"twice before three", "twice, up to three", TwiceDaily},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestDefaultTimes(t *testing.T) {
	assert.Equal(t, []string{"09:00"}, DefaultTimes(OnceDaily))
	assert.Equal(t, []string{"09:00", "21:00"}, DefaultTimes(TwiceDaily))
	assert.Equal(t, []string{"09:00", "14:00", "21:00"}, DefaultTimes(ThreeTimesDaily))
}

func TestDefaultTimesFreshSlice(t *testing.T) {
	a := DefaultTimes(TwiceDaily)
	a[0] = "06:00"
	assert.Equal(t, "09:00", DefaultTimes(TwiceDaily)[0])
}

func TestStringAndOptions(t *testing.T) {
	assert.Equal(t, "Three times daily", ThreeTimesDaily.String())
	assert.Equal(t, "Once daily", Frequency(42).String())
	assert.Equal(t, []string{"Once daily", "Twice daily", "Three times daily"}, Options())

	for _, label := range Options() {
		assert.Equal(t, label, Normalize(label).String())
	}
}
