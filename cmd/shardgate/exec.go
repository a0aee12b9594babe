package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arloliu/shardgate"
	"github.com/arloliu/shardgate/types"
)

var (
	execRead     bool
	execPrimary  bool
	execShardKey string
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] QUERY [ARGS...]",
	Short: "Run one statement through the router",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := buildStack(cmd.Context(), cfg, zap.NewNop())
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		opts := shardgate.Write()
		if execRead {
			opts = shardgate.Read()
			if execPrimary {
				opts = opts.WithConsistency(types.ConsistencyPrimary)
			}
		}
		if execShardKey != "" {
			opts = opts.WithShardKey(execShardKey)
		}

		query, qargs := args[0], make([]any, 0, len(args)-1)
		for _, a := range args[1:] {
			qargs = append(qargs, a)
		}

		out := cmd.OutOrStdout()
		if !execRead {
			res, err := s.router.ExecContext(cmd.Context(), opts, query, qargs...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%d rows affected\n", n)
			return err
		}

		return s.router.QueryContext(cmd.Context(), opts, func(rows *sql.Rows) error {
			return printRows(out, rows)
		}, query, qargs...)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Ping every node and print the health report as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		s, err := buildStack(cmd.Context(), cfg, zap.NewNop())
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		report := s.router.Health(cmd.Context())

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.Healthy {
			return errors.New("one or more nodes are unhealthy")
		}

		return nil
	},
}

func init() {
	execCmd.Flags().BoolVar(&execRead, "read", false, "run as a read and print the result rows")
	execCmd.Flags().BoolVar(&execPrimary, "primary", false, "send the read to the coordinator instead of a replica")
	execCmd.Flags().StringVar(&execShardKey, "shard-key", "", "route to the worker owning this key")
}

// printRows writes rows as a tab-aligned table.
func printRows(w io.Writer, rows *sql.Rows) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))

	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			if v.Valid {
				cells[i] = v.String
			} else {
				cells[i] = "NULL"
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	return tw.Flush()
}
