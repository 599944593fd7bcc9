package util

import (
	"reflect"
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDate(t *testing.T) {
	got, ok := ParseTime("2024-03-01")
	if !ok || got.Day() != 1 || got.Month() != time.March {
		t.Fatalf("unexpected %v %v", got, ok)
	}
}

func TestDayRangeIsStableWithinDay(t *testing.T) {
	a1, b1 := DayRange(time.Date(2024, 5, 6, 1, 0, 0, 0, time.UTC), 30)
	a2, b2 := DayRange(time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC), 30)
	if !a1.Equal(a2) || !b1.Equal(b2) {
		t.Fatalf("range moved within a day: %v-%v vs %v-%v", a1, b1, a2, b2)
	}
	if !a1.Equal(time.Date(2024, 4, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from %v", a1)
	}
}

func TestSplitSymbols(t *testing.T) {
	got := SplitSymbols(" aapl,MSFT,,aapl , nvda")
	want := []string{"AAPL", "MSFT", "NVDA"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
