package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/koba/cqlsync/internal/database"
	"github.com/koba/cqlsync/internal/diff"
	"github.com/koba/cqlsync/internal/migrate"
	"github.com/koba/cqlsync/internal/schema"
	"github.com/koba/cqlsync/internal/snapshot"
)

var (
	journalRuns bool
	snapshotID  string
)

var syncCmd = &cobra.Command{
	Use:   "sync [table...]",
	Short: "Reconcile live tables with their declarations",
	Long: `Create missing tables and migrate changed ones according to the migration policy.
Every declared table is synced when no table is named.`,
	RunE: runSync,
}

var planCmd = &cobra.Command{
	Use:   "plan [table...]",
	Short: "Print the DDL a sync would run",
	Long:  `Plan a sync against the live keyspace or a stored snapshot without running any DDL. Prompts are approved.`,
	RunE:  runPlan,
}

var diffCmd = &cobra.Command{
	Use:   "diff [table...]",
	Short: "Compare live tables with their declarations",
	RunE:  runDiff,
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [table...]",
	Short: "Store the live schema of declared tables",
	RunE:  runSnapshot,
}

var journalCmd = &cobra.Command{
	Use:   "journal <run-id>",
	Short: "Show the statements of a journaled sync run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournal,
}

func init() {
	syncCmd.Flags().String("migration", "", "Migration policy: safe, alter or drop")
	syncCmd.Flags().Bool("production", false, "Force the safe policy")
	syncCmd.Flags().BoolP("yes", "y", false, "Approve every prompt")
	syncCmd.Flags().BoolVar(&journalRuns, "journal", false, "Record executed DDL in the snapshot store")

	planCmd.Flags().String("migration", "", "Migration policy: safe, alter or drop")
	planCmd.Flags().StringVar(&snapshotID, "snapshot", "", `Plan against a stored snapshot ID or "latest"`)
	diffCmd.Flags().StringVar(&snapshotID, "snapshot", "", `Compare with a stored snapshot ID or "latest"`)
}

// liveOracle returns the schema oracle for the live keyspace, or for a stored
// snapshot when id is set.
func liveOracle(ctx context.Context, id string) (database.SchemaOracle, func(), error) {
	if id == "" {
		cass, err := database.Connect(cfg.Cassandra, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to cassandra: %w", err)
		}
		return database.NewIntrospector(cass, cfg.Cassandra.Keyspace), func() { _ = cass.Close() }, nil
	}

	store, err := snapshot.Open(ctx, cfg.Snapshot, logger)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()
	if id == "latest" {
		if id, err = store.Latest(ctx); err != nil {
			return nil, nil, err
		}
		if id == "" {
			return nil, nil, errors.New("no snapshots stored")
		}
	}
	snap, err := store.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using snapshot", "id", snap.ID, "keyspace", snap.Keyspace, "created_at", snap.CreatedAt)
	return snap, func() {}, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tables, err := loadTables(args)
	if err != nil {
		return err
	}

	cass, err := database.Connect(cfg.Cassandra, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to cassandra: %w", err)
	}
	defer cass.Close()
	oracle := database.NewIntrospector(cass, cfg.Cassandra.Keyspace)

	var confirm migrate.Confirmer
	if !cfg.DisableInteractiveConfirmation {
		pc, err := migrate.NewPromptConfirmer(os.Stdin, os.Stdout)
		if err != nil {
			return fmt.Errorf("failed to open prompt: %w", err)
		}
		defer pc.Close()
		confirm = pc
	}

	var store *snapshot.Store
	if journalRuns {
		if store, err = snapshot.Open(ctx, cfg.Snapshot, logger); err != nil {
			return err
		}
		defer store.Close()
	}

	results := make([]*migrate.Result, 0, len(tables))
	defer func() { printResults(os.Stdout, results) }()
	for _, t := range tables {
		var exec database.Executor = cass
		if store != nil {
			j := store.NewJournal(cass, t.Name())
			logger.Info("journaling sync", "table", t.Name(), "run_id", j.RunID())
			exec = j
		}
		res, err := migrate.NewReconciler(cfg.Migrate(), oracle, exec, confirm, logger).Sync(ctx, t)
		if err != nil {
			return err
		}
		results = append(results, res)
	}
	return nil
}

func printResults(w io.Writer, results []*migrate.Result) {
	if len(results) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Table", "State", "Statements"})
	for _, r := range results {
		t.AppendRow(table.Row{r.Table, r.State, len(r.Statements)})
	}
	t.Render()
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tables, err := loadTables(args)
	if err != nil {
		return err
	}
	oracle, closeFn, err := liveOracle(ctx, snapshotID)
	if err != nil {
		return err
	}
	defer closeFn()

	mc := cfg.Migrate()
	mc.DisableInteractiveConfirmation = true

	var failed []error
	for _, t := range tables {
		rec := database.NewRecorder()
		res, err := migrate.NewReconciler(mc, oracle, rec, nil, logger).Sync(ctx, t)
		if err != nil {
			fmt.Printf("-- %s: %v\n", t.Name(), err)
			failed = append(failed, err)
			continue
		}
		fmt.Printf("-- %s: %s\n", t.Name(), res.State)
		for _, q := range rec.Queries() {
			fmt.Println(q)
		}
	}
	return errors.Join(failed...)
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tables, err := loadTables(args)
	if err != nil {
		return err
	}
	oracle, closeFn, err := liveOracle(ctx, snapshotID)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, t := range tables {
		live, err := oracle.FetchLiveSchema(ctx, t.Name())
		if err != nil {
			return err
		}
		if live == nil {
			fmt.Printf("Table %s: does not exist.\n", t.Name())
			continue
		}
		dn, err := schema.Normalize(t.Schema())
		if err != nil {
			return err
		}
		ln, err := schema.Normalize(&live.TableSchema)
		if err != nil {
			return err
		}
		diff.Render(os.Stdout, diff.Compare(ln, dn))
	}
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tables, err := loadTables(args)
	if err != nil {
		return err
	}
	oracle, closeFn, err := liveOracle(ctx, "")
	if err != nil {
		return err
	}
	defer closeFn()

	store, err := snapshot.Open(ctx, cfg.Snapshot, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.CreateSnapshot(ctx, oracle, cfg.Cassandra.Keyspace, tableNames(tables))
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	fmt.Printf("Snapshot created: %s (%d tables)\n", snap.ID, len(snap.Tables))
	return nil
}

func runJournal(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := snapshot.Open(ctx, cfg.Snapshot, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Entries(ctx, args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no journal entries for run %s", args[0])
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Run: " + args[0])
	t.AppendHeader(table.Row{"#", "Table", "Executed", "Statement", "Error"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Seq, e.Table, e.ExecutedAt.Format(time.RFC3339), strings.TrimSpace(e.Statement), e.Error})
	}
	t.Render()
	return nil
}
