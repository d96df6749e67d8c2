package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaSearchTool searches table and column names in the SQLite schema, so
// the model can discover what sql_select has to work with.
type SchemaSearchTool struct {
	db *sql.DB
}

// NewSchemaSearchTool creates the tool over an open database handle.
func NewSchemaSearchTool(db *sql.DB) *SchemaSearchTool {
	return &SchemaSearchTool{db: db}
}

// Spec implements Tool.
func (t *SchemaSearchTool) Spec() Spec {
	return Spec{
		Name: "schema_search",
		Description: "Search the database schema for tables and columns whose names match " +
			"a query. Returns matching tables with their column names and types.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Substring to match against table and column names; empty lists everything",
				},
			},
		},
	}
}

type tableSchema struct {
	Table   string         `json:"table"`
	Columns []columnSchema `json:"columns"`
}

type columnSchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Execute implements Executor.
func (t *SchemaSearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query := strings.ToLower(strings.TrimSpace(GetStringParam(args, "query", "")))

	tables, err := t.listTables(ctx)
	if err != nil {
		return "", NewError(ErrorExecution, err)
	}

	var matches []tableSchema
	for _, table := range tables {
		columns, err := t.listColumns(ctx, table)
		if err != nil {
			return "", NewError(ErrorExecution, err)
		}

		if query == "" || strings.Contains(strings.ToLower(table), query) {
			matches = append(matches, tableSchema{Table: table, Columns: columns})
			continue
		}

		var hits []columnSchema
		for _, col := range columns {
			if strings.Contains(strings.ToLower(col.Name), query) {
				hits = append(hits, col)
			}
		}
		if len(hits) > 0 {
			matches = append(matches, tableSchema{Table: table, Columns: hits})
		}
	}

	if len(matches) == 0 {
		return fmt.Sprintf("No tables or columns match %q.", query), nil
	}

	data, err := json.MarshalIndent(matches, "", "  ")
	if err != nil {
		return "", NewError(ErrorExecution, fmt.Errorf("failed to encode schema: %w", err))
	}
	return string(data), nil
}

func (t *SchemaSearchTool) listTables(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (t *SchemaSearchTool) listColumns(ctx context.Context, table string) ([]columnSchema, error) {
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []columnSchema
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		columns = append(columns, columnSchema{Name: name, Type: colType})
	}
	return columns, rows.Err()
}
