package schema

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// ColumnSource reports the live column names of every table in the given
// schemas, keyed by qualified table name.
type ColumnSource interface {
	LiveColumns(ctx context.Context, schemas ...string) (map[string][]string, error)
}

// Drift describes registry entries that the live database does not have.
type Drift struct {
	MissingTables  []string            `json:"missing_tables,omitempty"`
	MissingColumns map[string][]string `json:"missing_columns,omitempty"`
}

// Empty reports whether registry and database agree.
func (d Drift) Empty() bool {
	return len(d.MissingTables) == 0 && len(d.MissingColumns) == 0
}

// Reconcile cross-checks reg against live metadata and returns a registry
// without the tables and columns the database does not know about. When the
// source reports nothing at all the registry is returned unchanged.
func Reconcile(ctx context.Context, reg *Registry, src ColumnSource, logger *logrus.Logger) (*Registry, Drift, error) {
	if logger == nil {
		logger = logrus.New()
	}

	live, err := src.LiveColumns(ctx, string(GenerationLive), string(GenerationHistorical))
	if err != nil {
		return reg, Drift{}, fmt.Errorf("load live columns: %w", err)
	}
	if len(live) == 0 {
		logger.Warn("live metadata is empty, keeping schema registry as loaded")
		return reg, Drift{}, nil
	}

	drift := Drift{MissingColumns: map[string][]string{}}
	tables := make([]*Table, 0, reg.Len())
	for _, t := range reg.Tables() {
		cols, ok := live[t.Name]
		if !ok {
			if t.Generation() == "" {
				// Only the two generation schemas are inspected.
				tables = append(tables, t)
				continue
			}
			drift.MissingTables = append(drift.MissingTables, t.Name)
			continue
		}

		known := make(map[string]struct{}, len(cols))
		for _, c := range cols {
			known[c] = struct{}{}
		}

		kept := make(Columns, 0, len(t.Columns))
		for _, c := range t.Columns {
			if _, ok := known[c.Name]; ok {
				kept = append(kept, c)
				continue
			}
			drift.MissingColumns[t.Name] = append(drift.MissingColumns[t.Name], c.Name)
		}

		tables = append(tables, &Table{
			Name:        t.Name,
			Description: t.Description,
			Columns:     kept,
			PrimaryKey:  t.PrimaryKey,
		})
	}
	sort.Strings(drift.MissingTables)
	if len(drift.MissingColumns) == 0 {
		drift.MissingColumns = nil
	}

	if !drift.Empty() {
		logger.WithFields(logrus.Fields{
			"missing_tables":  drift.MissingTables,
			"missing_columns": drift.MissingColumns,
		}).Warn("schema registry drifted from live database")
	}

	return NewRegistry(tables), drift, nil
}
