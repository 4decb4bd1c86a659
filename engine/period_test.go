package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/settlement-engine/engine"
)

func TestPeriodOf_CalendarMonth(t *testing.T) {
	p := engine.PeriodOf(day(2025, time.January, 15))

	assert.Equal(t, day(2025, time.January, 1), p.Start)
	assert.True(t, p.Contains(day(2025, time.January, 1)))
	assert.True(t, p.Contains(day(2025, time.January, 31)))
	assert.False(t, p.Contains(day(2025, time.February, 1)))
}

func TestPeriod_GraceDeadline(t *testing.T) {
	// GIVEN: A January period and 5 grace days
	// THEN: The deadline is February 5th, end of day

	deadline := engine.PeriodOf(day(2025, time.January, 15)).GraceDeadline(5)

	assert.Equal(t, 2025, deadline.Year())
	assert.Equal(t, time.February, deadline.Month())
	assert.Equal(t, 5, deadline.Day())
	assert.Equal(t, 23, deadline.Hour())
	assert.True(t, deadline.Before(day(2025, time.February, 6)))
}

func TestSamePeriod(t *testing.T) {
	assert.True(t, engine.SamePeriod(day(2025, time.January, 1), day(2025, time.January, 31)))
	assert.False(t, engine.SamePeriod(day(2025, time.January, 31), day(2025, time.February, 1)))
	assert.False(t, engine.SamePeriod(day(2024, time.March, 10), day(2025, time.March, 10)))
}

func TestMonthsBetween(t *testing.T) {
	jan15 := day(2025, time.January, 15)

	// Whole months only: the 14th of the next month rounds down.
	assert.Equal(t, 0, engine.MonthsBetween(jan15, day(2025, time.February, 14)))
	assert.Equal(t, 1, engine.MonthsBetween(jan15, day(2025, time.February, 15)))
	assert.Equal(t, 3, engine.MonthsBetween(jan15, day(2025, time.April, 20)))
	assert.Equal(t, 24, engine.MonthsBetween(jan15, day(2027, time.January, 15)))

	// Never negative.
	assert.Equal(t, 0, engine.MonthsBetween(jan15, jan15))
	assert.Equal(t, 0, engine.MonthsBetween(jan15, day(2024, time.June, 1)))
}

func TestDateOnly(t *testing.T) {
	ts := time.Date(2025, time.January, 15, 18, 30, 12, 99, time.UTC)
	assert.Equal(t, day(2025, time.January, 15), engine.DateOnly(ts))
}
