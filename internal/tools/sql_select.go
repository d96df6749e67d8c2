package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultMaxRows = 100
	maxRowsCeiling = 1000
)

// OpenDatabase opens the SQLite database backing the SQL built-ins.
func OpenDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	return db, nil
}

// SQLSelectTool runs read-only queries against a configured SQLite database.
type SQLSelectTool struct {
	db *sql.DB
}

// NewSQLSelectTool creates the tool over an open database handle.
func NewSQLSelectTool(db *sql.DB) *SQLSelectTool {
	return &SQLSelectTool{db: db}
}

// Spec implements Tool.
func (t *SQLSelectTool) Spec() Spec {
	return Spec{
		Name: "sql_select",
		Description: "Run a read-only SQL query (SELECT or WITH) against the configured " +
			"SQLite database and return the matching rows as JSON.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The SELECT statement to run",
				},
				"max_rows": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of rows to return (default 100)",
				},
			},
			"required": []string{"query"},
		},
	}
}

// Execute implements Executor.
func (t *SQLSelectTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query := strings.TrimSpace(GetStringParam(args, "query", ""))
	if query == "" {
		return "", NewError(ErrorInvalidArguments, fmt.Errorf("query is required"))
	}
	if !isReadOnlyQuery(query) {
		return "", NewError(ErrorInvalidArguments, fmt.Errorf("only SELECT queries are allowed"))
	}

	maxRows := GetIntParam(args, "max_rows", defaultMaxRows)
	if maxRows <= 0 || maxRows > maxRowsCeiling {
		maxRows = defaultMaxRows
	}

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return "", NewError(ErrorExecution, fmt.Errorf("query failed: %w", err))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", NewError(ErrorExecution, fmt.Errorf("failed to read columns: %w", err))
	}

	var results []map[string]interface{}
	truncated := false
	for rows.Next() {
		if len(results) >= maxRows {
			truncated = true
			break
		}

		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return "", NewError(ErrorExecution, fmt.Errorf("failed to scan row: %w", err))
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return "", NewError(ErrorExecution, fmt.Errorf("query iteration failed: %w", err))
	}

	payload := map[string]interface{}{
		"rows":      results,
		"row_count": len(results),
	}
	if truncated {
		payload["truncated"] = true
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", NewError(ErrorExecution, fmt.Errorf("failed to encode result: %w", err))
	}
	return string(data), nil
}

// isReadOnlyQuery checks that the statement starts with SELECT or WITH and
// contains no statement separator that could smuggle in a write.
func isReadOnlyQuery(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return false
	}
	return !strings.Contains(strings.TrimRight(query, "; \t\n"), ";")
}
