package schedule

import (
	"testing"
	"time"
)

func TestParseHumanDurationMinutes(t *testing.T) {
	s, err := Parse("15m")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	want := []time.Time{
		time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 45, 0, 0, time.UTC),
	}
	cursor := start
	for _, w := range want {
		cursor = s.NextTime(cursor)
		if !cursor.Equal(w) {
			t.Fatalf("NextTime = %s, want %s", cursor, w)
		}
	}
}

func TestParseHumanDurationHours(t *testing.T) {
	s, err := Parse("2h")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := s.NextTime(start)
	want := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextTime = %s, want %s", next, want)
	}
}

func TestParseUncleanDurationFails(t *testing.T) {
	if _, err := Parse("7m"); err == nil {
		t.Fatal("expected 7m (does not evenly divide an hour) to fail")
	}
	if _, err := Parse("13h"); err == nil {
		t.Fatal("expected 13h (does not evenly divide a day) to fail")
	}
}

func TestParseSixFieldCron(t *testing.T) {
	s, err := Parse("0 30 4 * * *")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := s.NextTime(start)
	want := time.Date(2024, 1, 1, 4, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("NextTime = %s, want %s", next, want)
	}
}

func TestParseEmptyFails(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected empty schedule to fail")
	}
}

func TestNextDelayMonotonicity(t *testing.T) {
	s, err := Parse("0 */10 * * * *")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var prevNext time.Time
	for i := 0; i < 5; i++ {
		delay, ok := s.NextDelay(after)
		if !ok {
			t.Fatalf("expected schedule to never be exhausted at iteration %d", i)
		}
		next := after.Add(delay)
		if !prevNext.IsZero() && !next.After(prevNext) {
			t.Fatalf("NextDelay not monotonic: prev=%s next=%s", prevNext, next)
		}
		prevNext = next
		after = next
	}
}

func TestRoundtripRender(t *testing.T) {
	s, err := Parse("15m")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rendered := s.Render()
	reparsed, err := Parse(rendered)
	if err != nil {
		t.Fatalf("Parse(Render()): %v", err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !s.NextTime(start).Equal(reparsed.NextTime(start)) {
		t.Fatalf("roundtrip schedule diverges: %s vs %s", s.NextTime(start), reparsed.NextTime(start))
	}
}
