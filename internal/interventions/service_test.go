package interventions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ivNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService() *Service {
	return NewService(NewMemoryStore()).WithClock(func() time.Time { return ivNow })
}

func TestLogValidation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		iv   Intervention
	}{
		{"missing user", Intervention{CourseID: 1, Type: TypeEmail}},
		{"missing course", Intervention{UserID: 1, Type: TypeEmail}},
		{"unknown type", Intervention{UserID: 1, CourseID: 1, Type: "carrier_pigeon"}},
		{"unknown status", Intervention{UserID: 1, CourseID: 1, Type: TypeEmail, Status: "lost"}},
		{"score out of range", Intervention{UserID: 1, CourseID: 1, Type: TypeEmail, RiskScore: 140}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.Log(ctx, &tc.iv), ErrInvalid)
		})
	}
}

func TestLogDefaultsAndCallback(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	var fired *Intervention
	svc.OnLogged(func(_ context.Context, iv *Intervention) { fired = iv })

	iv := &Intervention{UserID: 7, CourseID: 3, Type: TypeEmail, RiskScore: 81}
	require.NoError(t, svc.Log(ctx, iv))

	assert.Contains(t, iv.ID, "iv_")
	assert.Equal(t, StatusSent, iv.Status)
	assert.Equal(t, ivNow, iv.CreatedAt)
	require.NotNil(t, fired)
	assert.Equal(t, iv.ID, fired.ID)

	got, err := svc.Get(ctx, iv.ID)
	require.NoError(t, err)
	assert.Equal(t, iv.UserID, got.UserID)
}

func TestAdvanceOnlyForward(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	iv := &Intervention{UserID: 1, CourseID: 1, Type: TypeMessage, Status: StatusSent}
	require.NoError(t, svc.Log(ctx, iv))

	got, err := svc.Advance(ctx, iv.ID, StatusReplied)
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, got.Status)

	_, err = svc.Advance(ctx, iv.ID, StatusOpened)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Advance(ctx, "iv_missing", StatusResolved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPendingAndStats(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	seed := []*Intervention{
		{UserID: 1, CourseID: 5, Type: TypeEmail, Status: StatusPending},
		{UserID: 2, CourseID: 5, Type: TypeEmail, Status: StatusResolved},
		{UserID: 3, CourseID: 5, Type: TypeCall, Status: StatusSent},
		{UserID: 4, CourseID: 6, Type: TypeMessage, Status: StatusReplied},
	}
	for _, iv := range seed {
		require.NoError(t, svc.Log(ctx, iv))
	}

	pending, err := svc.Pending(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].UserID)

	stats, err := svc.Stats(ctx, 5, 30)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByType[TypeEmail])
	assert.Equal(t, 1, stats.ByStatus[StatusResolved])
	assert.InDelta(t, 1.0/3.0, stats.ResponseRate, 1e-9)

	all, err := svc.Stats(ctx, 0, 30)
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	assert.InDelta(t, 0.5, all.ResponseRate, 1e-9)
}
