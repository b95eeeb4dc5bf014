package periods

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFindPeriodForDateReturnsUniquePeriod(t *testing.T) {
	svc := NewService(newMemoryRepo(testPeriods()...))
	ctx := context.Background()

	period, err := svc.FindPeriodForDate(ctx, day("2024-01-15"))
	require.NoError(t, err)
	require.NotNil(t, period)
	require.Equal(t, "2024-01", period.PeriodNumber)

	period, err = svc.FindPeriodForDate(ctx, day("2026-07-01"))
	require.NoError(t, err)
	require.Nil(t, period, "gap dates resolve to no period")
}

func TestPeriodRangesDoNotOverlap(t *testing.T) {
	all := testPeriods()
	for i := range all {
		for j := range all {
			if i == j {
				continue
			}
			overlap := !all[i].StartDate.After(all[j].EndDate) && !all[i].EndDate.Before(all[j].StartDate)
			require.False(t, overlap, "periods %s and %s overlap", all[i].PeriodNumber, all[j].PeriodNumber)
		}
	}
}

func TestCreateRejectsOverlap(t *testing.T) {
	svc := NewService(newMemoryRepo(testPeriods()...))
	ctx := context.Background()

	_, err := svc.Create(ctx, CreatePeriodInput{
		PeriodNumber: "2024-01-dup",
		StartDate:    day("2024-01-10"),
		EndDate:      day("2024-02-10"),
	})
	require.ErrorIs(t, err, ErrPeriodOverlap)

	created, err := svc.Create(ctx, CreatePeriodInput{
		PeriodNumber: "2024-04",
		StartDate:    day("2024-04-01"),
		EndDate:      day("2024-04-30"),
	})
	require.NoError(t, err)
	require.Equal(t, StatusOpen, created.Status)
}

func TestTransitionPolicy(t *testing.T) {
	cases := []struct {
		current  Status
		target   Status
		override bool
		ok       bool
	}{
		{StatusOpen, StatusClosed, false, true},
		{StatusOpen, StatusPendingClose, false, true},
		{StatusOpen, StatusLocked, false, false},
		{StatusPendingClose, StatusClosed, false, true},
		{StatusPendingClose, StatusOpen, false, true},
		{StatusClosed, StatusOpen, false, true},
		{StatusClosed, StatusLocked, false, true},
		{StatusLocked, StatusClosed, false, false},
		{StatusLocked, StatusClosed, true, true},
		{StatusLocked, StatusOpen, true, false},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.current, tc.target, tc.override)
		if tc.ok {
			require.NoError(t, err, "%s -> %s", tc.current, tc.target)
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.current, tc.target)
		}
	}
}

func TestTransitionUpdatesPeriod(t *testing.T) {
	repo := newMemoryRepo(testPeriods()...)
	svc := NewService(repo)
	ctx := context.Background()

	updated, err := svc.Transition(ctx, 2, StatusClosed, 7, false)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, updated.Status)

	_, err = svc.Transition(ctx, 2, StatusLocked, 7, false)
	require.NoError(t, err)

	_, err = svc.Transition(ctx, 2, StatusOpen, 7, false)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestContainsIsInclusive(t *testing.T) {
	p := Period{StartDate: day("2024-01-01"), EndDate: day("2024-01-31")}
	require.True(t, p.Contains(day("2024-01-01")))
	require.True(t, p.Contains(day("2024-01-31")))
	require.False(t, p.Contains(day("2024-02-01")))
	require.False(t, p.Contains(day("2023-12-31")))
	require.True(t, p.Contains(time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC)))
}
