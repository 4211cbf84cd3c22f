package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func TestNextRunDate_FixedOffsets(t *testing.T) {
	ref := date(2024, time.January, 31)
	tests := []struct {
		freq Frequency
		want civil.Date
	}{
		{Daily, date(2024, time.February, 1)},
		{Weekly, date(2024, time.February, 7)},
		{Monthly, date(2024, time.March, 1)}, // 30 days, not "Feb 29"
		{Frequency("fortnightly"), date(2024, time.February, 1)},
		{Once, date(2024, time.February, 1)},
	}
	for _, tt := range tests {
		got := NextRunDate(ref, tt.freq, 0)
		if got != tt.want {
			t.Errorf("NextRunDate(%s, %q) = %s, want %s", ref, tt.freq, got, tt.want)
		}
	}
}

func TestNextRunDate_Weekdays(t *testing.T) {
	monday := date(2024, time.January, 1)
	friday := date(2024, time.January, 5)
	sunday := date(2024, time.January, 7)

	tests := []struct {
		name string
		ref  civil.Date
		days WeekdaySet
		want civil.Date
	}{
		{"later this week", monday, NewWeekdaySet(time.Wednesday, time.Friday), date(2024, time.January, 3)},
		{"wrap to monday", friday, NewWeekdaySet(time.Monday), date(2024, time.January, 8)},
		{"same weekday wraps a full week", monday, NewWeekdaySet(time.Monday), date(2024, time.January, 8)},
		{"sunday is end of week", friday, NewWeekdaySet(time.Sunday), sunday},
		{"from sunday wraps to earliest", sunday, NewWeekdaySet(time.Tuesday, time.Saturday), date(2024, time.January, 9)},
		{"empty set falls back to a day", monday, 0, date(2024, time.January, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRunDate(tt.ref, Weekdays, tt.days)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextRunDate_WeekdaysAlwaysLandsOnSelectedDay(t *testing.T) {
	set := NewWeekdaySet(time.Tuesday, time.Thursday, time.Saturday)
	ref := date(2024, time.March, 1)
	for i := 0; i < 30; i++ {
		next := NextRunDate(ref, Weekdays, set)
		gap := next.DaysSince(ref)
		if gap < 1 || gap > 7 {
			t.Fatalf("gap from %s to %s = %d", ref, next, gap)
		}
		if !set.Contains(Weekday(next)) {
			t.Fatalf("%s is a %s, not in %s", next, Weekday(next), set)
		}
		ref = next
	}
}

func TestParseWeekdays(t *testing.T) {
	set, err := ParseWeekdays(" wed, Friday ,mon")
	if err != nil {
		t.Fatalf("ParseWeekdays: %v", err)
	}
	if got := set.String(); got != "Mon,Wed,Fri" {
		t.Errorf("String() = %q, want Mon,Wed,Fri", got)
	}

	empty, err := ParseWeekdays("")
	if err != nil || !empty.Empty() {
		t.Errorf("empty input: set=%v err=%v", empty, err)
	}

	if _, err := ParseWeekdays("Mon,Funday"); err == nil {
		t.Error("expected error for unknown weekday")
	}
}

func TestParseFrequency(t *testing.T) {
	tests := map[string]Frequency{
		"Daily":             Daily,
		"weekly":            Weekly,
		" MONTHLY ":         Monthly,
		"Specific Weekdays": Weekdays,
		"":                  Once,
	}
	for in, want := range tests {
		got, err := ParseFrequency(in)
		if err != nil {
			t.Errorf("ParseFrequency(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseFrequency(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseFrequency("hourly"); err == nil {
		t.Error("expected error for hourly")
	}
	if Once.Recurring() || !Weekdays.Recurring() {
		t.Error("Recurring() misclassifies frequencies")
	}
}

func TestFrequencyJSON(t *testing.T) {
	var in struct {
		Frequency Frequency  `json:"frequency"`
		Weekdays  WeekdaySet `json:"weekdays"`
	}
	if err := json.Unmarshal([]byte(`{"frequency":"Specific Weekdays","weekdays":"Mon, friday"}`), &in); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if in.Frequency != Weekdays || in.Weekdays != NewWeekdaySet(time.Monday, time.Friday) {
		t.Errorf("decoded %+v", in)
	}
	if err := json.Unmarshal([]byte(`{"frequency":"hourly"}`), &in); err == nil {
		t.Error("expected error for unknown frequency")
	}
}

func TestToday(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	now := time.Date(2024, time.January, 1, 20, 0, 0, 0, time.UTC)
	if got := Today(now, loc); got != date(2024, time.January, 2) {
		t.Errorf("Today = %s, want 2024-01-02", got)
	}
	if got := Today(now, nil); got != date(2024, time.January, 1) {
		t.Errorf("Today(nil loc) = %s, want 2024-01-01", got)
	}
}
