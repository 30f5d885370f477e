package app_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"mdjira/internal/app"
	"mdjira/internal/config"
	"mdjira/internal/domain"
	"mdjira/internal/etl"
	"mdjira/internal/secret"
	"mdjira/internal/service"
)

type mapSecrets map[string]string

func (m mapSecrets) Set(key string, value []byte) error { m[key] = string(value); return nil }
func (m mapSecrets) Get(key string) ([]byte, error)    { return []byte(m[key]), nil }
func (m mapSecrets) Delete(key string) error           { delete(m, key); return nil }

func issue(id, updated, customer string) map[string]any {
	return map[string]any{
		"id":   id,
		"key":  "MD-" + id,
		"self": "https://example.atlassian.net/rest/api/3/issue/" + id,
		"fields": map[string]any{
			"updated":           updated,
			"created":           "2024-02-20T09:00:00.000-0800",
			"customfield_10095": customer,
			"summary":           "Cannot log in",
		},
		"changelog": map[string]any{"histories": []any{}},
		"expand":    "changelog,renderedFields",
	}
}

func TestApp_RunPartitionEndToEnd(t *testing.T) {
	var gotJQL, gotUser string
	jira := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotJQL = r.URL.Query().Get("jql")
		gotUser, _, _ = r.BasicAuth()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issues": []any{
				issue("1", "2024-02-26T10:00:00.000-0800", "CUST1"),
				issue("2", "2024-02-26T11:00:00.000-0800", "CUST2"),
				issue("3", "2024-02-26T12:00:00.000-0800", ""),
			},
			"isLast": true,
		})
	}))
	defer jira.Close()

	dir := t.TempDir()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Jira.BaseURL = jira.URL + "/rest/api/3/"
	cfg.Jira.RateLimit = 1000
	cfg.Destination.Driver = domain.DestinationDriverSQLite
	cfg.Destination.Host = filepath.Join(dir, "warehouse.db")
	cfg.RunLog.Path = filepath.Join(dir, "runs.db")

	emitter := &service.MockEmitter{}
	a, err := app.New(cfg, zap.NewNop(), app.Options{
		Secrets: mapSecrets{
			secret.KeyJiraUsername:    "bot@example.com",
			secret.KeyJiraAccessToken: "token",
		},
		Emitter: emitter,
		Now:     func() time.Time { return time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	res, err := a.Ingest.RunPartition(context.Background(), "2024-02-27", domain.RunTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, etl.StatusPartial, res.Status)
	assert.Equal(t, 3, res.RowsRead)
	assert.Equal(t, 2, res.RowsWritten)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "MD-3", res.Rejections[0].Key)

	assert.Equal(t, "project ='MD' and updated >= '2024-02-26 00:00' and updated < '2024-02-27 00:00' order by updated desc", gotJQL)
	assert.Equal(t, "bot@example.com", gotUser)
	require.Len(t, emitter.Recorded(), 1)

	db, err := sql.Open("sqlite", cfg.Destination.Host)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query(`SELECT id, customer_id, partition_date, fields FROM issues ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id, customer, partitionDate, fields string
		require.NoError(t, rows.Scan(&id, &customer, &partitionDate, &fields))
		ids = append(ids, id)
		assert.Equal(t, "2024-02-27", partitionDate)
		assert.True(t, strings.HasPrefix(customer, "CUST"))
		assert.Contains(t, fields, "Cannot log in")
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"1", "2"}, ids)

	// Re-running merges on (id, partition_date) instead of duplicating.
	_, err = a.Ingest.RunPartition(context.Background(), "2024-02-27", domain.RunTriggerManual)
	require.NoError(t, err)
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM issues`).Scan(&n))
	assert.Equal(t, 2, n)

	runs, err := a.Ingest.ListRuns("2024-02-27", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestApp_PartitionOutOfRange(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Destination.Driver = domain.DestinationDriverSQLite
	cfg.Destination.Host = filepath.Join(dir, "warehouse.db")
	cfg.RunLog.Path = filepath.Join(dir, "runs.db")

	a, err := app.New(cfg, zap.NewNop(), app.Options{
		Secrets: mapSecrets{},
		Now:     func() time.Time { return time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	_, err = a.Ingest.RunPartition(context.Background(), "2024-02-24", domain.RunTriggerManual)
	assert.Error(t, err)
	assert.Equal(t, "2024-03-01", a.Ingest.LastPartition())
}
