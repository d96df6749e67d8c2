package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabase(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, email TEXT);
		CREATE TABLE orders (id INTEGER PRIMARY KEY, user_id INTEGER, total REAL);
		INSERT INTO users (name, email) VALUES ('alice', 'alice@example.com'), ('bob', 'bob@example.com');
	`)
	require.NoError(t, err)

	return db
}

func TestSQLSelect(t *testing.T) {
	tool := NewSQLSelectTool(testDatabase(t))

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "SELECT name FROM users ORDER BY name",
	})
	require.NoError(t, err)

	var payload struct {
		Rows     []map[string]interface{} `json:"rows"`
		RowCount int                      `json:"row_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, 2, payload.RowCount)
	assert.Equal(t, "alice", payload.Rows[0]["name"])
	assert.Equal(t, "bob", payload.Rows[1]["name"])
}

func TestSQLSelectMaxRows(t *testing.T) {
	tool := NewSQLSelectTool(testDatabase(t))

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"query":    "SELECT name FROM users ORDER BY name",
		"max_rows": float64(1),
	})
	require.NoError(t, err)

	var payload struct {
		RowCount  int  `json:"row_count"`
		Truncated bool `json:"truncated"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, 1, payload.RowCount)
	assert.True(t, payload.Truncated)
}

func TestSQLSelectRejectsWrites(t *testing.T) {
	tool := NewSQLSelectTool(testDatabase(t))

	for _, query := range []string{
		"DELETE FROM users",
		"INSERT INTO users (name) VALUES ('mallory')",
		"UPDATE users SET name = 'x'",
		"SELECT 1; DROP TABLE users",
	} {
		_, err := tool.Execute(context.Background(), map[string]interface{}{"query": query})
		require.Error(t, err, "query %q should be rejected", query)
		assert.Equal(t, ErrorInvalidArguments, Classify(err))
	}
}

func TestSQLSelectAllowsCTE(t *testing.T) {
	tool := NewSQLSelectTool(testDatabase(t))

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "WITH named AS (SELECT name FROM users) SELECT * FROM named",
	})
	assert.NoError(t, err)
}

func TestSQLSelectBadQuery(t *testing.T) {
	tool := NewSQLSelectTool(testDatabase(t))

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "SELECT nope FROM missing_table",
	})
	require.Error(t, err)
	assert.Equal(t, ErrorExecution, Classify(err))
}

func TestSchemaSearch(t *testing.T) {
	tool := NewSchemaSearchTool(testDatabase(t))

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "email"})
	require.NoError(t, err)

	var matches []tableSchema
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "users", matches[0].Table)
	require.Len(t, matches[0].Columns, 1)
	assert.Equal(t, "email", matches[0].Columns[0].Name)
}

func TestSchemaSearchMatchesTableName(t *testing.T) {
	tool := NewSchemaSearchTool(testDatabase(t))

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "orders"})
	require.NoError(t, err)

	var matches []tableSchema
	require.NoError(t, json.Unmarshal([]byte(out), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "orders", matches[0].Table)
	assert.Len(t, matches[0].Columns, 3)
}

func TestSchemaSearchNoMatch(t *testing.T) {
	tool := NewSchemaSearchTool(testDatabase(t))

	out, err := tool.Execute(context.Background(), map[string]interface{}{"query": "zzz"})
	require.NoError(t, err)
	assert.Contains(t, out, "No tables or columns match")
}
