package util

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonths_CrossesYearBoundary(t *testing.T) {
	got := slices.Collect(Months(2020, 11, 2021, 2))
	assert.Equal(t, []YearMonth{{2020, 11}, {2020, 12}, {2021, 1}}, got)
}

func TestMonths_EmptyWhenBoundsEqual(t *testing.T) {
	assert.Empty(t, slices.Collect(Months(2020, 1, 2020, 1)))
}

func TestMonths_EmptyWhenUntilBeforeFrom(t *testing.T) {
	assert.Empty(t, slices.Collect(Months(2021, 5, 2020, 1)))
}

func TestMonths_Properties(t *testing.T) {
	tests := []struct {
		fy, fm, uy, um int
	}{
		{2019, 1, 2019, 2},
		{2019, 12, 2020, 1},
		{1991, 8, 2024, 3},
		{2020, 6, 2023, 6},
	}
	for _, tt := range tests {
		got := slices.Collect(Months(tt.fy, tt.fm, tt.uy, tt.um))
		want := MonthIndex(tt.uy, tt.um) - MonthIndex(tt.fy, tt.fm)
		require.Len(t, got, want)
		for i, ym := range got {
			assert.GreaterOrEqual(t, ym.Month, 1)
			assert.LessOrEqual(t, ym.Month, 12)
			if i > 0 {
				assert.Equal(t, got[i-1].Index()+1, ym.Index(), "months must be consecutive")
			}
		}
		assert.Equal(t, YearMonth{tt.fy, tt.fm}, got[0])
	}
}

func TestMonths_Restartable(t *testing.T) {
	seq := Months(2020, 1, 2020, 4)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)
	assert.Len(t, first, 3)
}

func TestMonths_StopsEarly(t *testing.T) {
	var seen []YearMonth
	for ym := range Months(2020, 1, 2030, 1) {
		seen = append(seen, ym)
		if len(seen) == 2 {
			break
		}
	}
	assert.Len(t, seen, 2)
}

func TestYearMonthString(t *testing.T) {
	assert.Equal(t, "2020-03", YearMonth{2020, 3}.String())
	assert.Equal(t, "1999-12", YearMonth{1999, 12}.String())
}

func TestWindowValidate(t *testing.T) {
	require.NoError(t, Window{2020, 1, 2020, 2}.Validate())

	err := Window{2020, 1, 2020, 1}.Validate()
	var rangeErr *InvalidRangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Contains(t, rangeErr.Error(), "until must come after from")

	require.Error(t, Window{2020, 0, 2020, 2}.Validate())
	require.Error(t, Window{2020, 1, 2020, 13}.Validate())
}

func TestParseYYMM(t *testing.T) {
	tests := []struct {
		in      string
		want    YearMonth
		wantErr bool
	}{
		{"2003", YearMonth{2020, 3}, false},
		{"9108", YearMonth{1991, 8}, false},
		{"0001", YearMonth{2000, 1}, false},
		{"2013", YearMonth{}, true},
		{"20", YearMonth{}, true},
		{"ab01", YearMonth{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseYYMM(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
