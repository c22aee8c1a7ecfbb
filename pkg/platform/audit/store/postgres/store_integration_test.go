//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ticketd/pkg/platform/audit"
	"ticketd/pkg/testutil/containers"
)

func TestAppendAndListBySubject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()
	store := New(pg.DB)
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, pg.Truncate(ctx, "audit_events"))

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	granted := audit.Event{
		ID:        "evt-1",
		Category:  audit.CategorySecurity,
		Timestamp: at,
		Subject:   "alice",
		Action:    string(audit.EventAccessGranted),
		ClientID:  "app",
		GrantType: "password",
		Decision:  audit.DecisionAllow,
	}
	issued := audit.Event{
		ID:        "evt-2",
		Category:  audit.CategoryOperations,
		Timestamp: at.Add(time.Second),
		Subject:   "alice",
		Action:    string(audit.EventTokenIssued),
		TicketID:  "AT-1",
	}
	require.NoError(t, store.Append(ctx, issued))
	require.NoError(t, store.Append(ctx, granted))
	require.NoError(t, store.Append(ctx, granted), "re-delivery is a no-op")
	require.NoError(t, store.Append(ctx, audit.Event{ID: "evt-3", Category: audit.CategoryOperations, Timestamp: at, Subject: "bob", Action: "x"}))

	events, err := store.ListBySubject(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, "password", events[0].GrantType)
	assert.Equal(t, "AT-1", events[1].TicketID)
	assert.True(t, events[1].Timestamp.Equal(at.Add(time.Second)))
}
