package util

import (
	"fmt"
	"iter"
	"strconv"
)

// YearMonth is a single calendar month. Month is in [1,12].
type YearMonth struct {
	Year  int
	Month int
}

// String renders the month as YYYY-MM, the prefix used by manifest timestamps
// and by the per-month output directories.
func (ym YearMonth) String() string {
	return fmt.Sprintf("%d-%02d", ym.Year, ym.Month)
}

// Index encodes the month as 12*year + (month-1).
func (ym YearMonth) Index() int {
	return MonthIndex(ym.Year, ym.Month)
}

// MonthIndex encodes a (year, month) pair as a month index.
func MonthIndex(year, month int) int {
	return 12*year + month - 1
}

// FromIndex decodes a month index back into a YearMonth.
func FromIndex(index int) YearMonth {
	return YearMonth{Year: index / 12, Month: index%12 + 1}
}

// Months yields every month from (fromYear, fromMonth) inclusive up to
// (untilYear, untilMonth) exclusive, in increasing order. The sequence is empty
// when until does not come after from. Each range over the result starts over.
func Months(fromYear, fromMonth, untilYear, untilMonth int) iter.Seq[YearMonth] {
	start := MonthIndex(fromYear, fromMonth)
	end := MonthIndex(untilYear, untilMonth)
	return func(yield func(YearMonth) bool) {
		for i := start; i < end; i++ {
			if !yield(FromIndex(i)) {
				return
			}
		}
	}
}

// Window is a half-open month range [From, Until).
type Window struct {
	FromYear   int
	FromMonth  int
	UntilYear  int
	UntilMonth int
}

// Months yields the months covered by the window.
func (w Window) Months() iter.Seq[YearMonth] {
	return Months(w.FromYear, w.FromMonth, w.UntilYear, w.UntilMonth)
}

// Len is the number of months in the window, never negative.
func (w Window) Len() int {
	n := MonthIndex(w.UntilYear, w.UntilMonth) - MonthIndex(w.FromYear, w.FromMonth)
	if n < 0 {
		return 0
	}
	return n
}

// Validate requires both months to be in [1,12] and the window to be non-empty.
func (w Window) Validate() error {
	if w.FromMonth < 1 || w.FromMonth > 12 {
		return &InvalidRangeError{Window: w, Reason: fmt.Sprintf("from-month %d out of range", w.FromMonth)}
	}
	if w.UntilMonth < 1 || w.UntilMonth > 12 {
		return &InvalidRangeError{Window: w, Reason: fmt.Sprintf("until-month %d out of range", w.UntilMonth)}
	}
	if w.Len() == 0 {
		return &InvalidRangeError{Window: w, Reason: "until must come after from"}
	}
	return nil
}

// InvalidRangeError reports a window that cannot be iterated as requested.
type InvalidRangeError struct {
	Window Window
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %d-%02d..%d-%02d: %s",
		e.Window.FromYear, e.Window.FromMonth, e.Window.UntilYear, e.Window.UntilMonth, e.Reason)
}

// ParseYYMM converts an arXiv yymm string such as "2003" into a YearMonth.
// Two-digit years from 91 onwards belong to the 1900s.
func ParseYYMM(s string) (YearMonth, error) {
	if len(s) != 4 {
		return YearMonth{}, fmt.Errorf("yymm %q: want 4 digits", s)
	}
	yy, err := strconv.Atoi(s[:2])
	if err != nil {
		return YearMonth{}, fmt.Errorf("yymm %q: %w", s, err)
	}
	mm, err := strconv.Atoi(s[2:])
	if err != nil {
		return YearMonth{}, fmt.Errorf("yymm %q: %w", s, err)
	}
	if mm < 1 || mm > 12 {
		return YearMonth{}, fmt.Errorf("yymm %q: month %d out of range", s, mm)
	}
	year := 2000 + yy
	if yy >= 91 {
		year = 1900 + yy
	}
	return YearMonth{Year: year, Month: mm}, nil
}
