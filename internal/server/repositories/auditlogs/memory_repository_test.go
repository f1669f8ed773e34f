package auditlogs

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ListNewestFirstWithLimit(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	for _, ev := range []models.AuditEvent{models.EventRequestBreakGlass, models.EventViewTierC, models.EventRevoke} {
		require.NoError(t, r.Insert(ctx, &models.AuditEntry{ProfileID: "p1", Event: ev}))
	}
	require.NoError(t, r.Insert(ctx, &models.AuditEntry{ProfileID: "p2", Event: models.EventViewTierE}))

	got, err := r.ListByProfile(ctx, "p1", time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.EventRevoke, got[0].Event)
	assert.Equal(t, models.EventViewTierC, got[1].Event)
	assert.Greater(t, got[0].ID, got[1].ID)
}

func TestMemory_Since(t *testing.T) {
	r := NewMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	r.now = func() time.Time { tick = tick.Add(time.Hour); return tick }
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, &models.AuditEntry{ProfileID: "p1", Event: models.EventViewTierE}))
	require.NoError(t, r.Insert(ctx, &models.AuditEntry{ProfileID: "p1", Event: models.EventViewTierC}))

	got, err := r.ListByProfile(ctx, "p1", base.Add(90*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventViewTierC, got[0].Event)
}
