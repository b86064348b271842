package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sumire-games/nightdistrict/server/model"
	"github.com/sumire-games/nightdistrict/server/testutil"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	// Operator
	op := &model.Operator{Username: "test_user", PasswordHash: "hash", Status: 1}
	require.NoError(t, db.Create(op).Error)
	assert.Greater(t, op.ID, int64(0))

	var found model.Operator
	require.NoError(t, db.First(&found, op.ID).Error)
	assert.Equal(t, "test_user", found.Username)

	// ActorSnapshot
	snap := &model.ActorSnapshot{
		DistrictID: 3, ActorID: 12, Name: "corner-warden",
		Class: "warden", X: 14.5, Y: -2, Heading: 90, StepKind: "walk",
	}
	require.NoError(t, db.Create(snap).Error)

	var got model.ActorSnapshot
	require.NoError(t, db.Where("district_id = ? AND actor_id = ?", 3, 12).First(&got).Error)
	assert.Equal(t, "warden", got.Class)
	assert.InDelta(t, 14.5, got.X, 1e-9)

	// AuditLog
	al := &model.AuditLog{
		TraceID: "trace-001", Action: "actor_force",
		DistrictID: 3, CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(al).Error)
}

func TestActorSnapshotUpsertKey(t *testing.T) {
	db := testutil.SetupTestDB(t)

	first := &model.ActorSnapshot{DistrictID: 1, ActorID: 1, Class: "pedestrian"}
	require.NoError(t, db.Create(first).Error)

	// Same (district, actor) pair violates the unique index.
	dup := &model.ActorSnapshot{DistrictID: 1, ActorID: 1, Class: "pedestrian"}
	assert.Error(t, db.Create(dup).Error)
}
