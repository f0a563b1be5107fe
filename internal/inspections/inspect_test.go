package inspections_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagscope/internal/containers"
	"tagscope/internal/inspections"
	"tagscope/internal/testsupport"
)

// inspectSource mimics a published gtm.js preamble: the data model assigned
// to var data, followed by minified runtime code carrying vendor signals.
const inspectSource = `// Copyright 2012 Google Inc. All rights reserved.
(function(w,g){w[g]=w[g]||{};w[g].e=function(e){return eval(e)};})(window,'google_tag_manager');(function(){

var data = {
"resource": {
  "version":"742",

  "macros":[{"function":"__e"},{"function":"__v","vtp_name":"page_path","vtp_dataLayerVersion":2,"vtp_setDefaultValue":true,"vtp_defaultValue":"/"}],
  "tags":[{
      "function":"__html",
      "metadata":["map","name","FB Pixel"],
      "once_per_event":true,
      "vtp_html":"<script>fbq('init','1122334455');</script>",
      "tag_id":5
    },{
      "function":"__googtag",
      "vtp_measurementId":"G-ABC123XYZ",
      "tag_id":7
    }],
  "predicates":[{"function":"_eq","arg0":["macro",0],"arg1":"gtm.js"}],
  "rules":[[["if",0],["add",0,1]]]
},
"runtime":[]

};
/*

 Container load: GTM-E2E0001 */var ba,ca=function(a){return function(){return ba[a].apply(this,arguments)}};})()`

func TestInspect(t *testing.T) {
	ctx := context.Background()

	t.Run("successful inspection persists inventory and run", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		container := testsupport.CreateTestContainer(db, "GTM-E2E0001")
		fetcher := &testsupport.StubFetcher{Sources: map[string]string{"GTM-E2E0001": inspectSource}}

		summary, err := inspections.Inspect(ctx, db, logger, fetcher, "GTM-E2E0001")
		require.NoError(t, err)

		assert.True(t, summary.Located)
		assert.Equal(t, 2, summary.TagCount)
		assert.Equal(t, 1, summary.TriggerCount)
		assert.Equal(t, 2, summary.VariableCount)

		tags, err := inspections.GetTagRows(db, "GTM-E2E0001")
		require.NoError(t, err)
		require.Len(t, tags, 2)
		assert.Equal(t, "FB Pixel", tags[0].Name)
		assert.Equal(t, "Custom HTML", tags[0].Type)
		assert.Equal(t, "Meta (Facebook)", tags[0].Vendor)
		assert.Equal(t, "1", tags[0].Triggers)
		assert.Equal(t, "Once per event", tags[0].FiringOption)
		assert.Equal(t, "Google Tag", tags[1].Type)

		triggers, err := inspections.GetTriggerRows(db, "GTM-E2E0001")
		require.NoError(t, err)
		require.Len(t, triggers, 1)
		assert.Equal(t, "Page View", triggers[0].Type)

		variables, err := inspections.GetVariableRows(db, "GTM-E2E0001")
		require.NoError(t, err)
		require.Len(t, variables, 2)

		run, err := inspections.GetLatestRun(db, "GTM-E2E0001")
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, inspections.StatusSuccess, run.Status)
		assert.True(t, run.Located)

		reloaded, err := containers.GetContainerByID(db, container.ID)
		require.NoError(t, err)
		require.NotNil(t, reloaded.LastInspectedAt)
	})

	t.Run("vendor hits exclude the audited container itself", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		testsupport.CreateTestContainer(db, "GTM-E2E0001")
		fetcher := &testsupport.StubFetcher{Sources: map[string]string{"GTM-E2E0001": inspectSource}}

		_, err := inspections.Inspect(ctx, db, logger, fetcher, "GTM-E2E0001")
		require.NoError(t, err)

		vendors, err := inspections.GetVendorRows(db, "GTM-E2E0001")
		require.NoError(t, err)

		byVendor := map[string]string{}
		for _, v := range vendors {
			assert.NotEqual(t, "GTM-E2E0001", v.IDValue, "self-reference must be filtered")
			byVendor[v.Vendor] = v.IDValue
		}
		assert.Equal(t, "G-ABC123XYZ", byVendor["Google Analytics 4"])
		assert.Equal(t, "1122334455", byVendor["Meta (Facebook)"])
	})

	t.Run("transport failure records a failed run", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		container := testsupport.CreateTestContainer(db, "GTM-DOWN001")
		fetcher := &testsupport.StubFetcher{Err: errors.New("connection refused")}

		summary, err := inspections.Inspect(ctx, db, logger, fetcher, "GTM-DOWN001")
		assert.Error(t, err)
		assert.Nil(t, summary)

		run, err := inspections.GetLatestRun(db, "GTM-DOWN001")
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, inspections.StatusFailed, run.Status)
		assert.Contains(t, run.Error, "connection refused")

		reloaded, err := containers.GetContainerByID(db, container.ID)
		require.NoError(t, err)
		assert.Nil(t, reloaded.LastInspectedAt, "failed runs must not stamp last_inspected_at")
	})

	t.Run("unregistered container is rejected before fetching", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		fetcher := &testsupport.StubFetcher{Sources: map[string]string{}}

		_, err := inspections.Inspect(ctx, db, logger, fetcher, "GTM-NOPE001")

		var notFound *containers.ContainerNotFoundError
		assert.ErrorAs(t, err, &notFound)
		assert.Equal(t, 0, fetcher.CallCount())
	})

	t.Run("unparseable script still succeeds with zero inventory", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		testsupport.CreateTestContainer(db, "GTM-GARB001")
		garbage := `(function(){console.log("nothing to see");fbq('init','99887766');})()`
		fetcher := &testsupport.StubFetcher{Sources: map[string]string{"GTM-GARB001": garbage}}

		summary, err := inspections.Inspect(ctx, db, logger, fetcher, "GTM-GARB001")
		require.NoError(t, err)

		assert.False(t, summary.Located)
		assert.Equal(t, 0, summary.TagCount)
		assert.Equal(t, 0, summary.TriggerCount)
		assert.Equal(t, 0, summary.VariableCount)

		// The signature scan runs regardless of parse outcome
		vendors, err := inspections.GetVendorRows(db, "GTM-GARB001")
		require.NoError(t, err)
		require.Len(t, vendors, 1)
		assert.Equal(t, "Meta (Facebook)", vendors[0].Vendor)
		assert.Equal(t, "99887766", vendors[0].IDValue)
	})

	t.Run("re-inspection replaces the previous inventory atomically", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		testsupport.CreateTestContainer(db, "GTM-E2E0001")
		fetcher := &testsupport.StubFetcher{Sources: map[string]string{"GTM-E2E0001": inspectSource}}

		_, err := inspections.Inspect(ctx, db, logger, fetcher, "GTM-E2E0001")
		require.NoError(t, err)

		// Second pass serves a slimmed container with a single tag
		fetcher.Sources["GTM-E2E0001"] = `var data = {"resource":{"version":"743","macros":[],"tags":[{"function":"__googtag","vtp_measurementId":"G-ABC123XYZ","tag_id":7}],"predicates":[],"rules":[]}};`
		_, err = inspections.Inspect(ctx, db, logger, fetcher, "GTM-E2E0001")
		require.NoError(t, err)

		tags, err := inspections.GetTagRows(db, "GTM-E2E0001")
		require.NoError(t, err)
		require.Len(t, tags, 1)
		assert.Equal(t, "Google Tag", tags[0].Type)

		triggers, err := inspections.GetTriggerRows(db, "GTM-E2E0001")
		require.NoError(t, err)
		assert.Empty(t, triggers)

		runs, err := inspections.GetRuns(db, "GTM-E2E0001", 0)
		require.NoError(t, err)
		assert.Len(t, runs, 2, "run history accumulates even as inventory is replaced")
	})
}

func TestPruneRunsBefore(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	old := inspections.Run{ContainerID: "GTM-E2E0001", Status: inspections.StatusSuccess, CreatedAt: time.Now().UTC().AddDate(0, 0, -120)}
	require.NoError(t, db.Create(&old).Error)
	recent := inspections.Run{ContainerID: "GTM-E2E0001", Status: inspections.StatusSuccess, CreatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&recent).Error)

	deleted, err := inspections.PruneRunsBefore(logger, db, time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	runs, err := inspections.GetRuns(db, "GTM-E2E0001", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, recent.ID, runs[0].ID)
}
