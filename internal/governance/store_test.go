package governance

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb), mr
}

func TestSnapshotDefaults(t *testing.T) {
	s, _ := newTestStore(t)

	st, err := s.Snapshot(context.Background())
	require.NoError(t, err)

	// absent keys mean enabled, assist, default thresholds
	assert.True(t, st.Enabled)
	assert.Equal(t, ModeAssist, st.Mode)
	assert.Equal(t, 85, st.ThresholdAssign)
	assert.Equal(t, 80, st.ThresholdCategorize)
	assert.Equal(t, 95, st.ThresholdRemediate)
}

func TestKillSwitchRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, false, "ops@example.com", "storm in progress"))
	st, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled)

	require.NoError(t, s.SetEnabled(ctx, true, "ops@example.com", "storm over"))
	st, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled)

	entries, err := s.KillSwitchAudit(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEnsureDefaultsDoesNotClobber(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, false, "ops", "maintenance"))
	require.NoError(t, s.EnsureDefaults(ctx))

	st, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
}

func TestSetMode(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetMode(ctx, ModeAuto))
	st, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, st.Mode)

	assert.Error(t, s.SetMode(ctx, "yolo"))
}

func TestSetThreshold(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetThreshold(ctx, ThresholdRemediate, 99))
	st, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 99, st.ThresholdRemediate)

	assert.Error(t, s.SetThreshold(ctx, "auto_launch", 50))
	assert.Error(t, s.SetThreshold(ctx, ThresholdAssign, 101))
	assert.Error(t, s.SetThreshold(ctx, ThresholdAssign, -1))
}

func TestApprovalLifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Approved(ctx, "INC0020001")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordApproval(ctx, Approval{
		Incident: "INC0020001",
		Action:   "approved",
		Approver: "lead@example.com",
	}))
	ok, err = s.Approved(ctx, "INC0020001")
	require.NoError(t, err)
	assert.True(t, ok)

	// rejection overwrites and reads as not approved
	require.NoError(t, s.RecordApproval(ctx, Approval{
		Incident: "INC0020001",
		Action:   "rejected",
		Approver: "lead@example.com",
	}))
	ok, err = s.Approved(ctx, "INC0020001")
	require.NoError(t, err)
	assert.False(t, ok)

	// approvals expire after an hour
	require.NoError(t, s.RecordApproval(ctx, Approval{
		Incident: "INC0020002",
		Action:   "approved",
		Approver: "lead@example.com",
	}))
	mr.FastForward(time.Hour + time.Minute)
	ok, err = s.Approved(ctx, "INC0020002")
	require.NoError(t, err)
	assert.False(t, ok)
}
