package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/larder-db/larder"
	"github.com/larder-db/larder/config"
	"github.com/larder-db/larder/schema"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configFlag  string
		verboseFlag bool
	)

	rootCmd := &cobra.Command{
		Use:   "larder",
		Short: "Inspect and maintain larder databases",
		Long: `larder is the maintenance tool for larder database files: inspect
the live schema, run ad-hoc queries, stream change events, and manage
online backups.

Examples:
  larder inspect ./data.db
  larder query ./data.db "SELECT id, title FROM post"
  larder watch ./data.db post
  larder backup ./data.db ./data.backup.db`,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose logging")

	newLogger := func() *zap.Logger {
		if !verboseFlag {
			return zap.NewNop()
		}
		log, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return log
	}

	loadConfig := func() *config.Config {
		var (
			cfg *config.Config
			err error
		)
		if configFlag != "" {
			cfg, err = config.Load(configFlag)
		} else {
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load config: %v\n", err)
			return config.Default()
		}
		return cfg
	}

	openDB := func(path string, monitor bool) (*larder.DB, error) {
		cfg := loadConfig()
		if monitor {
			cfg.Monitor = true
		}
		return larder.Open(path, cfg, newLogger())
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <database>",
		Short: "Print the live schema of every table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(args[0], false)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			rows, err := db.Query(ctx,
				`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
			if err != nil {
				return err
			}
			for _, row := range rows {
				name, _ := row.Values[0].Str()
				t, err := schema.Introspect(ctx, db, name)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not introspect %s: %v\n", name, err)
					continue
				}
				fmt.Println(name)
				for _, col := range t.Columns {
					attrs := []string{col.Type.String()}
					if !col.Nullable {
						attrs = append(attrs, "NOT NULL")
					}
					if col.PrimaryKeyOrdinal > 0 {
						attrs = append(attrs, "PRIMARY KEY")
					}
					fmt.Printf("  %-20s %s\n", col.Name, strings.Join(attrs, " "))
				}
				for _, ix := range t.Indexes {
					kind := "index"
					if ix.Unique {
						kind = "unique index"
					}
					fmt.Printf("  %-20s %s on (%s)\n", ix.Name, kind, strings.Join(ix.Columns, ", "))
				}
			}
			return nil
		},
	}

	queryCmd := &cobra.Command{
		Use:   "query <database> <sql>",
		Short: "Run a query and print the rows as JSON lines",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(args[0], false)
			if err != nil {
				return err
			}
			defer db.Close()

			rows, err := db.Query(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, row := range rows {
				obj := make(map[string]any, len(row.Columns))
				for i, col := range row.Columns {
					obj[col] = row.Values[i].String()
				}
				if err := enc.Encode(obj); err != nil {
					return err
				}
			}
			return nil
		},
	}

	watchCmd := &cobra.Command{
		Use:   "watch <database> <table>",
		Short: "Stream change events for a table until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(args[0], true)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events, cancel := db.Changes(args[1])
			defer cancel()

			enc := json.NewEncoder(os.Stdout)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					obj := map[string]any{
						"table":       ev.Table,
						"all_rows":    ev.AllRows(),
						"all_columns": ev.AllColumns(),
					}
					if !ev.AllRows() {
						keys := make([][]string, len(ev.PrimaryKeys))
						for i, pk := range ev.PrimaryKeys {
							for _, v := range pk {
								keys[i] = append(keys[i], v.String())
							}
						}
						obj["primary_keys"] = keys
					}
					if !ev.AllColumns() {
						obj["columns"] = ev.Columns
					}
					if err := enc.Encode(obj); err != nil {
						return err
					}
				}
			}
		},
	}

	backupCmd := &cobra.Command{
		Use:   "backup <database> <destination>",
		Short: "Stream an online backup to a new file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(args[0], false)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Backup(cmd.Context(), args[1]); err != nil {
				return err
			}
			fmt.Printf("backed up %s to %s\n", args[0], args[1])
			return nil
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <database>",
		Short: "Delete a database file and its journal companions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return larder.DeleteDatabase(args[0])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("larder %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}

	rootCmd.AddCommand(inspectCmd, queryCmd, watchCmd, backupCmd, rmCmd, versionCmd)
	rootCmd.SetContext(context.Background())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
