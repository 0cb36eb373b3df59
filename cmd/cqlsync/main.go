package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koba/cqlsync/internal/config"
	"github.com/koba/cqlsync/internal/schema"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "cqlsync",
	Short:         "Cassandra schema reconciliation and statement compiler",
	Long:          `Reconcile declared Cassandra tables with a live keyspace, snapshot live schemas and compile query documents into CQL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger = cfg.NewLogger(os.Stderr)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./"+config.DefaultConfigFile+" when present)")
	pf.String("schema", "", "Table declaration file")
	pf.StringSlice("hosts", nil, "Cassandra contact points")
	pf.Int("port", 0, "Cassandra native protocol port")
	pf.String("keyspace", "", "Keyspace to reconcile")
	pf.String("username", "", "Cassandra username")
	pf.String("password", "", "Cassandra password")
	pf.String("consistency", "", "Consistency level")
	pf.String("snapshot-driver", "", "Snapshot store driver: sqlite, postgres or mysql")
	pf.String("snapshot-dsn", "", "Snapshot store DSN")
	pf.String("log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(compileCmd)
}

// loadTables compiles the declared tables, restricted to names when given.
func loadTables(names []string) ([]*schema.Table, error) {
	decls, err := schema.LoadFile(cfg.Schema)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var tables []*schema.Table
	for _, d := range decls {
		if len(want) > 0 && !want[d.Name] {
			continue
		}
		t, err := schema.Compile(d)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", d.Name, err)
		}
		tables = append(tables, t)
		delete(want, d.Name)
	}
	if len(want) > 0 {
		missing := slices.Sorted(maps.Keys(want))
		return nil, fmt.Errorf("tables not declared in %s: %s", cfg.Schema, strings.Join(missing, ", "))
	}
	return tables, nil
}

func findTable(name string) (*schema.Table, error) {
	tables, err := loadTables([]string{name})
	if err != nil {
		return nil, err
	}
	return tables[0], nil
}

func tableNames(tables []*schema.Table) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name()
	}
	return names
}
