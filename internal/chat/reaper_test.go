package chat

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/heritage-guide/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpireIdleSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first := env.session(t)
	other, err := env.svc.CreateSession(ctx, 8, 1)
	require.NoError(t, err)
	_, err = env.svc.EndSession(ctx, other.Session.ID, nil)
	require.NoError(t, err)

	// Stored sessions carry wall-clock update times, so look far ahead.
	env.svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	ended, err := env.svc.ExpireIdleSessions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{first.ID}, ended)

	status, err := env.svc.SessionStatus(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, status)

	require.NoError(t, env.svc.Shutdown(ctx))
	assert.Zero(t, env.model.callCount(prompt.KindSummary))

	summary, err := env.svc.GetSummary(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Empty(t, summary.Keywords)
}

func TestReapIdleSessionsCallsBack(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.session(t)
	env.svc.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	var got []int64
	reapIdleSessions(context.Background(), env.svc, time.Hour, func(id int64) { got = append(got, id) })

	assert.Equal(t, []int64{sess.ID}, got)
}
