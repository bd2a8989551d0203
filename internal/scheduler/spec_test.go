package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		ok   bool
	}{
		{"once ok", Spec{Type: TypeOnce, At: ts("2030-01-01T00:00:00Z")}, true},
		{"once missing at", Spec{Type: TypeOnce}, false},
		{"interval ok", Spec{Type: TypeInterval, Minutes: 15}, true},
		{"interval zero", Spec{Type: TypeInterval}, false},
		{"interval negative", Spec{Type: TypeInterval, Minutes: -5}, false},
		{"daily ok", Spec{Type: TypeDaily, Time: "09:30"}, true},
		{"daily bad clock", Spec{Type: TypeDaily, Time: "25:00"}, false},
		{"weekly ok", Spec{Type: TypeWeekly, Time: "08:00", Day: "Friday"}, true},
		{"weekly bad day", Spec{Type: TypeWeekly, Time: "08:00", Day: "someday"}, false},
		{"monthly ok", Spec{Type: TypeMonthly, Time: "10:00", DayOfMonth: 15}, true},
		{"monthly day 29", Spec{Type: TypeMonthly, Time: "10:00", DayOfMonth: 29}, false},
		{"monthly day 0", Spec{Type: TypeMonthly, Time: "10:00"}, false},
		{"unknown type", Spec{Type: "hourly"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestComputeNextRunOnce(t *testing.T) {
	future := ts("2030-06-01T12:00:00Z")
	got := ComputeNextRun(Spec{Type: TypeOnce, At: future}, ts("2024-01-01T00:00:00Z"))
	assert.Equal(t, future, got)

	got = ComputeNextRun(Spec{Type: TypeOnce, At: ts("2020-01-01T00:00:00Z")}, ts("2024-01-01T00:00:00Z"))
	assert.True(t, got.IsZero(), "expired once has no next run")
}

func TestComputeNextRunInterval(t *testing.T) {
	after := ts("2024-03-10T10:07:00Z")
	got := ComputeNextRun(Spec{Type: TypeInterval, Minutes: 30}, after)
	assert.Equal(t, after.Add(30*time.Minute), got)
}

func TestComputeNextRunDaily(t *testing.T) {
	spec := Spec{Type: TypeDaily, Time: "15:00"}

	got := ComputeNextRun(spec, ts("2024-03-10T10:00:00Z"))
	assert.Equal(t, ts("2024-03-10T15:00:00Z"), got)

	got = ComputeNextRun(spec, ts("2024-03-10T15:00:00Z"))
	assert.Equal(t, ts("2024-03-11T15:00:00Z"), got, "exact hit rolls to tomorrow")

	got = ComputeNextRun(spec, ts("2024-03-10T16:30:00Z"))
	assert.Equal(t, ts("2024-03-11T15:00:00Z"), got)
}

func TestComputeNextRunWeekly(t *testing.T) {
	// 2024-03-10 is a Sunday.
	spec := Spec{Type: TypeWeekly, Time: "09:00", Day: "wednesday"}
	got := ComputeNextRun(spec, ts("2024-03-10T10:00:00Z"))
	assert.Equal(t, ts("2024-03-13T09:00:00Z"), got)

	// Same weekday, time already past: next week.
	spec = Spec{Type: TypeWeekly, Time: "09:00", Day: "sunday"}
	got = ComputeNextRun(spec, ts("2024-03-10T10:00:00Z"))
	assert.Equal(t, ts("2024-03-17T09:00:00Z"), got)
}

func TestComputeNextRunMonthlyRollover(t *testing.T) {
	spec := Spec{Type: TypeMonthly, Time: "10:00", DayOfMonth: 15}

	got := ComputeNextRun(spec, ts("2024-01-20T11:00:00Z"))
	assert.Equal(t, ts("2024-02-15T10:00:00Z"), got)

	got = ComputeNextRun(spec, ts("2024-12-20T11:00:00Z"))
	assert.Equal(t, ts("2025-01-15T10:00:00Z"), got, "year rollover")

	got = ComputeNextRun(spec, ts("2024-01-10T09:00:00Z"))
	assert.Equal(t, ts("2024-01-15T10:00:00Z"), got, "still this month")
}

func TestComputeNextRunIsStrictlyFuture(t *testing.T) {
	now := ts("2024-05-05T05:05:00Z")
	specs := []Spec{
		{Type: TypeInterval, Minutes: 1},
		{Type: TypeDaily, Time: "05:05"},
		{Type: TypeWeekly, Time: "05:05", Day: "sunday"},
		{Type: TypeMonthly, Time: "05:05", DayOfMonth: 5},
	}
	for _, s := range specs {
		got := ComputeNextRun(s, now)
		require.False(t, got.IsZero(), "%s", s.Type)
		assert.True(t, got.After(now), "%s: %v not after %v", s.Type, got, now)
	}
}

func TestComputeNextRunIsPure(t *testing.T) {
	spec := Spec{Type: TypeWeekly, Time: "12:00", Day: "monday"}
	after := ts("2024-07-01T00:00:00Z")
	assert.Equal(t, ComputeNextRun(spec, after), ComputeNextRun(spec, after))
}

func TestNextAlignedTick(t *testing.T) {
	got := NextAlignedTick(5, ts("2024-03-10T10:03:21Z"))
	assert.Equal(t, ts("2024-03-10T10:05:00Z"), got)

	got = NextAlignedTick(5, ts("2024-03-10T10:05:00Z"))
	assert.Equal(t, ts("2024-03-10T10:10:00Z"), got, "aligned instant advances a full tick")

	got = NextAlignedTick(15, ts("2024-03-10T10:59:59Z"))
	assert.Equal(t, ts("2024-03-10T11:00:00Z"), got, "hour rollover")

	for _, k := range []int{1, 2, 3, 4, 5, 6, 10, 12, 15, 20, 30} {
		now := ts("2024-03-10T10:07:33Z")
		next := NextAlignedTick(k, now)
		assert.Zero(t, next.Minute()%k, "k=%d", k)
		assert.Zero(t, next.Second(), "k=%d", k)
		assert.True(t, next.After(now), "k=%d", k)
	}
}

func TestIsDue(t *testing.T) {
	now := ts("2024-03-10T10:00:00Z")
	assert.True(t, IsDue(now.Add(-time.Minute), now))
	assert.True(t, IsDue(now, now))
	assert.False(t, IsDue(now.Add(time.Minute), now))
	assert.False(t, IsDue(time.Time{}, now))
}

func TestParseRoundTrip(t *testing.T) {
	spec, err := Parse([]byte(`{"type":"monthly","time":"10:00","day_of_month":15}`))
	require.NoError(t, err)
	assert.Equal(t, TypeMonthly, spec.Type)
	assert.Equal(t, 15, spec.DayOfMonth)

	_, err = Parse([]byte(`{"type":"interval"}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "every 30 minutes", Describe(Spec{Type: TypeInterval, Minutes: 30}))
	assert.Equal(t, "daily at 09:00 UTC", Describe(Spec{Type: TypeDaily, Time: "09:00"}))
	assert.Equal(t, "weekly on friday at 08:00 UTC", Describe(Spec{Type: TypeWeekly, Day: "Friday", Time: "08:00"}))
}
