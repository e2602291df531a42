package finance

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/quickjot/quickjot/plugin"
	"github.com/quickjot/quickjot/storage"
	"github.com/quickjot/quickjot/testutil"
	"github.com/quickjot/quickjot/types"
)

func newInitialized(t *testing.T, scripted *testutil.ScriptedLLM) (*Plugin, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))

	p := New()
	require.NoError(t, p.Initialize(context.Background(), plugin.Dependencies{DB: db, LLM: scripted}))
	return p, db
}

func addDecision() *types.Decision   { return &types.Decision{Plugin: "finance", Action: "add"} }
func queryDecision() *types.Decision { return &types.Decision{Plugin: "finance", Action: "query"} }

func TestPlugin_Identity(t *testing.T) {
	p := New()
	assert.Equal(t, "finance", p.Name())
	assert.NotEmpty(t, p.DisplayName())
	assert.NotEmpty(t, p.Description())
	assert.NotEmpty(t, p.Version())
}

func TestPlugin_InitializeRequiresDependencies(t *testing.T) {
	err := New().Initialize(context.Background(), plugin.Dependencies{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInitialization))
}

func TestPlugin_AddSingleRecord(t *testing.T) {
	scripted := testutil.NewScriptedLLM().WithReply(
		`{"records":[{"type":"expense","amount":50,"primary_category":"food","description":"lunch","record_date":"2026-08-29"}]}`)
	p, db := newInitialized(t, scripted)

	resp, err := p.Execute(context.Background(),
		&types.AccessRequest{UserID: "1", InputText: "spent 50 on lunch"},
		types.NewContext("1"), addDecision())
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data["count"])
	assert.Equal(t, 50.0, resp.Data["total"])
	assert.Contains(t, resp.Message, "lunch")

	var recs []storage.FinanceRecord
	require.NoError(t, db.Find(&recs).Error)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].UserID)
	assert.Equal(t, "expense", recs[0].Type)
	assert.Equal(t, "spent 50 on lunch", recs[0].RawText)
}

func TestPlugin_AddBatchSkipsInvalidEntries(t *testing.T) {
	scripted := testutil.NewScriptedLLM().WithReply(
		`{"records":[
			{"type":"expense","amount":50,"primary_category":"food","description":"lunch"},
			{"type":"expense","amount":-3,"primary_category":"food","description":"bogus"},
			{"type":"income","amount":5000,"primary_category":"salary","description":"august salary"}
		]}`)
	p, db := newInitialized(t, scripted)

	resp, err := p.Execute(context.Background(),
		&types.AccessRequest{UserID: "1", InputText: "lunch 50, salary 5000"},
		types.NewContext("1"), addDecision())
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, 2, resp.Data["count"])

	var count int64
	require.NoError(t, db.Model(&storage.FinanceRecord{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestPlugin_AddNothingRecognized(t *testing.T) {
	scripted := testutil.NewScriptedLLM().WithReply(`{"records":[]}`)
	p, _ := newInitialized(t, scripted)

	_, err := p.Execute(context.Background(),
		&types.AccessRequest{UserID: "1", InputText: "hello there"},
		types.NewContext("1"), addDecision())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestPlugin_AddModelOutage(t *testing.T) {
	p, _ := newInitialized(t, testutil.NewScriptedLLM().WithUnavailable())

	_, err := p.Execute(context.Background(),
		&types.AccessRequest{UserID: "1", InputText: "spent 50"},
		types.NewContext("1"), addDecision())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrLLMUnavailable))
}

func TestPlugin_Query(t *testing.T) {
	scripted := testutil.NewScriptedLLM().
		WithReply("SELECT SUM(amount) AS total FROM finance_records WHERE user_id = '1' AND type = 'expense'").
		WithReply("You spent 68.00 in total.")
	p, db := newInitialized(t, scripted)

	seed := []*storage.FinanceRecord{
		{UserID: "1", Type: "expense", Amount: 50, PrimaryCategory: "food"},
		{UserID: "1", Type: "expense", Amount: 18, PrimaryCategory: "food"},
		{UserID: "2", Type: "expense", Amount: 999, PrimaryCategory: "food"},
	}
	for _, rec := range seed {
		require.NoError(t, db.Create(rec).Error)
	}

	resp, err := p.Execute(context.Background(),
		&types.AccessRequest{UserID: "1", InputText: "how much did I spend"},
		types.NewContext("1"), queryDecision())
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "You spent 68.00 in total.", resp.Message)
	assert.Equal(t, 1, resp.Data["count"])
}

func TestPlugin_QuerySummaryFailureDegrades(t *testing.T) {
	scripted := testutil.NewScriptedLLM().
		WithReply("SELECT amount FROM finance_records WHERE user_id = '1'").
		WithUnavailable()
	p, db := newInitialized(t, scripted)
	require.NoError(t, db.Create(&storage.FinanceRecord{UserID: "1", Type: "expense", Amount: 50}).Error)

	resp, err := p.Execute(context.Background(),
		&types.AccessRequest{UserID: "1", InputText: "recent spending"},
		types.NewContext("1"), queryDecision())
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Contains(t, resp.Message, "1 matching")
}

func TestPlugin_QueryRejectsDangerousSQL(t *testing.T) {
	scripted := testutil.NewScriptedLLM().
		WithReply("SELECT * FROM finance_records WHERE user_id = '1'; DROP TABLE finance_records")
	p, db := newInitialized(t, scripted)
	require.NoError(t, db.Create(&storage.FinanceRecord{UserID: "1", Type: "expense", Amount: 50}).Error)

	_, err := p.Execute(context.Background(),
		&types.AccessRequest{UserID: "1", InputText: "show everything"},
		types.NewContext("1"), queryDecision())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))

	// The table survived.
	var count int64
	require.NoError(t, db.Model(&storage.FinanceRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPlugin_QueryNoRows(t *testing.T) {
	scripted := testutil.NewScriptedLLM().
		WithReply("SELECT amount FROM finance_records WHERE user_id = '1'")
	p, _ := newInitialized(t, scripted)

	resp, err := p.Execute(context.Background(),
		&types.AccessRequest{UserID: "1", InputText: "any spending?"},
		types.NewContext("1"), queryDecision())
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Contains(t, resp.Message, "No matching")
	// No summarize call happens for an empty result.
	assert.Equal(t, 1, scripted.CallCount())
}

func TestPlugin_UnknownAction(t *testing.T) {
	p, _ := newInitialized(t, testutil.NewScriptedLLM())

	_, err := p.Execute(context.Background(),
		&types.AccessRequest{UserID: "1", InputText: "spent 50"},
		types.NewContext("1"), &types.Decision{Plugin: "finance", Action: "dance"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestPlugin_ShutdownIdempotent(t *testing.T) {
	p, _ := newInitialized(t, testutil.NewScriptedLLM())
	require.NoError(t, p.Shutdown(context.Background()))
	require.NoError(t, p.Shutdown(context.Background()))
}
