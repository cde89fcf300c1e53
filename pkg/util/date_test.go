package util

import "testing"

func TestDaysBetween(t *testing.T) {
	got, err := DaysBetween("2020-04-01", "2020-05-01")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != 30 {
		t.Fatalf("expected 30 days, got %d", got)
	}
	got, _ = DaysBetween("2020-04-01", "2020-09-01")
	if got != 153 {
		t.Fatalf("expected 153 days, got %d", got)
	}
}

func TestAddMonthsClampsDay(t *testing.T) {
	got, err := AddMonths("2020-03-31", -1)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "2020-02-29" {
		t.Fatalf("unexpected date %s", got)
	}
	got, _ = AddMonths("2020-07", -6)
	if got != "2020-01" {
		t.Fatalf("unexpected month %s", got)
	}
	got, _ = AddMonths("2019-11", 3)
	if got != "2020-02" {
		t.Fatalf("unexpected month %s", got)
	}
}

func TestMonthRange(t *testing.T) {
	got, err := MonthRange("2019-11-15", "2020-02")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := []string{"2019-11", "2019-12", "2020-01", "2020-02"}
	if len(got) != len(want) {
		t.Fatalf("unexpected range %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected range %v", got)
		}
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	if _, err := ParseDate("2020"); err == nil {
		t.Fatalf("expected error")
	}
}
