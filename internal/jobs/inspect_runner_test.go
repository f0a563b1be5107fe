package jobs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagscope/internal/config"
	"tagscope/internal/containers"
	"tagscope/internal/inspections"
	"tagscope/internal/jobs"
	"tagscope/internal/testsupport"
)

const runnerSource = `var data = {"resource":{"version":"1","macros":[{"function":"__e"}],"tags":[{"function":"__googtag","vtp_measurementId":"G-RUNNER0001","tag_id":1}],"predicates":[],"rules":[]}};`

func TestInspectRunnerJob(t *testing.T) {
	t.Run("inspects only stale containers", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		stale := testsupport.CreateTestContainer(db, "GTM-STALE01")
		fresh := testsupport.CreateTestContainer(db, "GTM-FRESH01")
		require.NoError(t, containers.TouchLastInspected(db, fresh.ID, time.Now().UTC()))

		fetcher := &testsupport.StubFetcher{Sources: map[string]string{
			"GTM-STALE01": runnerSource,
			"GTM-FRESH01": runnerSource,
		}}

		cfg := config.GetConfig()
		job := jobs.NewInspectRunnerJob(db, logger, cfg, fetcher)
		require.NoError(t, job.Run())

		assert.Equal(t, 1, fetcher.CallCount())
		assert.Equal(t, []string{"GTM-STALE01"}, fetcher.Calls)

		tags, err := inspections.GetTagRows(db, "GTM-STALE01")
		require.NoError(t, err)
		assert.Len(t, tags, 1)

		reloaded, err := containers.GetContainerByID(db, stale.ID)
		require.NoError(t, err)
		assert.NotNil(t, reloaded.LastInspectedAt)
	})

	t.Run("one failing container does not abort the batch", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		testsupport.CreateTestContainer(db, "GTM-GOOD001")
		testsupport.CreateTestContainer(db, "GTM-BAD0001")

		// Only GTM-GOOD001 has a stubbed source; the other errors out
		fetcher := &testsupport.StubFetcher{Sources: map[string]string{
			"GTM-GOOD001": runnerSource,
		}}

		cfg := config.GetConfig()
		job := jobs.NewInspectRunnerJob(db, logger, cfg, fetcher)
		require.NoError(t, job.Run(), "batch completes despite individual failures")

		assert.Equal(t, 2, fetcher.CallCount())

		goodRun, err := inspections.GetLatestRun(db, "GTM-GOOD001")
		require.NoError(t, err)
		require.NotNil(t, goodRun)
		assert.Equal(t, inspections.StatusSuccess, goodRun.Status)

		badRun, err := inspections.GetLatestRun(db, "GTM-BAD0001")
		require.NoError(t, err)
		require.NotNil(t, badRun)
		assert.Equal(t, inspections.StatusFailed, badRun.Status)
	})

	t.Run("no stale containers is a no-op", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)

		fetcher := &testsupport.StubFetcher{Sources: map[string]string{}}

		cfg := config.GetConfig()
		job := jobs.NewInspectRunnerJob(db, logger, cfg, fetcher)
		require.NoError(t, job.Run())
		assert.Equal(t, 0, fetcher.CallCount())
	})
}
