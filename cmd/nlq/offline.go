package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aman-zulfiqar/defi-nlq/internal/ai"
	"github.com/aman-zulfiqar/defi-nlq/internal/config"
	"github.com/aman-zulfiqar/defi-nlq/internal/schema"
	"github.com/aman-zulfiqar/defi-nlq/internal/sqlguard"
	"github.com/spf13/cobra"
)

var guardLimit int

var guardCmd = &cobra.Command{
	Use:   "guard [sql]",
	Short: "Check a statement against the read-only guard",
	Long: `Runs the same guard the query loop applies before execution and prints the
statement that would be sent to the database. Reads the statement from stdin
when no argument is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sql := strings.Join(args, " ")
		if sql == "" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			sql = string(b)
		}

		limit := guardLimit
		if limit <= 0 {
			limit = config.Load().SQLMaxLimit
		}
		out, err := sqlguard.Guard(sql, limit)
		if err != nil {
			return fmt.Errorf("rejected: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var classifyOpts struct {
	doc      bool
	registry string
}

type classifyReport struct {
	Scope       ai.Scope            `json:"scope"`
	Intent      ai.Intent           `json:"intent"`
	Tables      []string            `json:"tables,omitempty"`
	Generations []schema.Generation `json:"generations,omitempty"`
	Fallback    bool                `json:"fallback,omitempty"`
	Doc         string              `json:"doc,omitempty"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify <question>",
	Short: "Show scope, intent and selected tables for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := strings.Join(args, " ")

		path := classifyOpts.registry
		if path == "" {
			path = config.Load().SchemaRegistryPath
		}
		reg, err := schema.NewLoader(path, newLogger()).Load()
		if err != nil {
			return err
		}

		cls := ai.Classify(q)
		report := classifyReport{Scope: cls.Scope, Intent: cls.Intent}
		if cls.Scope == ai.ScopeGeneralKnowledge {
			report.Intent = ai.DetectIntent(q)
		}
		if cls.Scope == ai.ScopeInScope {
			f := schema.NewFilter(reg, nil).Filter(q)
			report.Tables = f.Tables
			report.Generations = f.Generations
			report.Fallback = f.Fallback
			if classifyOpts.doc {
				report.Doc = f.Doc
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	guardCmd.Flags().IntVar(&guardLimit, "limit", 0, "Row limit to enforce (default from SQL_MAX_LIMIT)")
	classifyCmd.Flags().BoolVar(&classifyOpts.doc, "doc", false, "Include the rendered schema doc")
	classifyCmd.Flags().StringVar(&classifyOpts.registry, "registry", "", "Schema registry file (default: embedded catalog)")
}
