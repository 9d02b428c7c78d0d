package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/store"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.AuditEntry{}))
	return db
}

func TestRecorder_Record(t *testing.T) {
	db := newTestDB(t)
	r := NewRecorder(nil)
	actor := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return r.Record(context.Background(), tx, Entry{
			EntityType:  "control_token",
			EntityID:    uuid.New().String(),
			Action:      ActionTokenCreated,
			ActorUserID: &actor,
			ChangeSet:   map[string]any{"description": "ci pipeline"},
			RemoteAddr:  "10.0.0.1",
			UserAgent:   "tbcp-cli/1.0",
		})
	})
	require.NoError(t, err)

	var rows []store.AuditEntry
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, string(ActionTokenCreated), rows[0].Action)
	assert.Equal(t, "control_token", rows[0].EntityType)
	assert.JSONEq(t, `{"description":"ci pipeline"}`, rows[0].ChangeSet)
	assert.Equal(t, actor, *rows[0].ActorUserID)
}

func TestRecorder_Record_RollsBackWithCaller(t *testing.T) {
	db := newTestDB(t)
	r := NewRecorder(nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := r.Record(context.Background(), tx, Entry{
			EntityType: "agent_budget",
			EntityID:   uuid.New().String(),
			Action:     ActionBudgetBorrowed,
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&store.AuditEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecorder_Record_NilChangeSet(t *testing.T) {
	db := newTestDB(t)
	r := NewRecorder(nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return r.Record(context.Background(), tx, Entry{
			EntityType: "limit_record",
			EntityID:   uuid.New().String(),
			Action:     ActionLimitCreated,
		})
	})
	require.NoError(t, err)

	var row store.AuditEntry
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "{}", row.ChangeSet)
}

func TestRecorder_Query_FiltersAndOrdersNewestFirst(t *testing.T) {
	db := newTestDB(t)
	r := NewRecorder(nil)
	agentID := uuid.New().String()

	older := store.AuditEntry{ID: uuid.New(), EntityType: "agent_budget", EntityID: agentID, Action: string(ActionBudgetBorrowed), ChangeSet: "{}", CreatedAt: time.Now().Add(-time.Hour)}
	newer := store.AuditEntry{ID: uuid.New(), EntityType: "agent_budget", EntityID: agentID, Action: string(ActionBudgetSpent), ChangeSet: "{}", CreatedAt: time.Now()}
	other := store.AuditEntry{ID: uuid.New(), EntityType: "control_token", EntityID: uuid.New().String(), Action: string(ActionTokenCreated), ChangeSet: "{}", CreatedAt: time.Now()}
	require.NoError(t, db.Create(&older).Error)
	require.NoError(t, db.Create(&newer).Error)
	require.NoError(t, db.Create(&other).Error)

	rows, err := r.Query(context.Background(), db, Filter{EntityType: "agent_budget", EntityID: agentID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, string(ActionBudgetSpent), rows[0].Action)
	assert.Equal(t, string(ActionBudgetBorrowed), rows[1].Action)
}

func TestRecorder_Query_Limit(t *testing.T) {
	db := newTestDB(t)
	r := NewRecorder(nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&store.AuditEntry{
			ID: uuid.New(), EntityType: "control_token", EntityID: uuid.New().String(),
			Action: string(ActionTokenCreated), ChangeSet: "{}", CreatedAt: time.Now(),
		}).Error)
	}

	rows, err := r.Query(context.Background(), db, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
