package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koba/cqlsync/internal/cql"
	"github.com/koba/cqlsync/internal/generator"
	"github.com/koba/cqlsync/internal/model"
)

var (
	findOpts   generator.FindOptions
	updateOpts generator.UpdateOptions
	insertOpts generator.InsertOptions
	conditions string
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Compile query documents into CQL",
	Long: `Compile JSON query documents against a declared table and print the CQL with its bound parameters.
Nothing is executed.`,
}

var compileFindCmd = &cobra.Command{
	Use:   "find <table> <query>",
	Short: "Compile a SELECT",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, docs, err := compileInput(args)
		if err != nil {
			return err
		}
		cs, err := m.CompileFind(docs[0], findOpts)
		return printCompiled(cs, err)
	},
}

var compileUpdateCmd = &cobra.Command{
	Use:   "update <table> <where> <values>",
	Short: "Compile an UPDATE",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, docs, err := compileInput(args)
		if err != nil {
			return err
		}
		if conditions != "" {
			if err := json.Unmarshal([]byte(conditions), &updateOpts.Conditions); err != nil {
				return fmt.Errorf("invalid conditions: %w", err)
			}
		}
		cs, err := m.CompileUpdate(docs[0], docs[1], updateOpts)
		return printCompiled(cs, err)
	},
}

var compileDeleteCmd = &cobra.Command{
	Use:   "delete <table> <where>",
	Short: "Compile a DELETE",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, docs, err := compileInput(args)
		if err != nil {
			return err
		}
		cs, err := m.CompileDelete(docs[0])
		return printCompiled(cs, err)
	},
}

var compileInsertCmd = &cobra.Command{
	Use:   "insert <table> <values>",
	Short: "Compile an INSERT",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, docs, err := compileInput(args)
		if err != nil {
			return err
		}
		cs, err := m.CompileInsert(docs[0], insertOpts, nil)
		return printCompiled(cs, err)
	},
}

func init() {
	f := compileFindCmd.Flags()
	f.StringSliceVar(&findOpts.Select, "select", nil, "Selected columns or expressions")
	f.BoolVar(&findOpts.Distinct, "distinct", false, "SELECT DISTINCT")
	f.BoolVar(&findOpts.AllowFiltering, "allow-filtering", false, "Append ALLOW FILTERING")
	f.StringVar(&findOpts.MaterializedView, "view", "", "Query a materialized view instead of the table")

	f = compileUpdateCmd.Flags()
	f.IntVar(&updateOpts.TTL, "ttl", 0, "USING TTL seconds")
	f.BoolVar(&updateOpts.IfExists, "if-exists", false, "Append IF EXISTS")
	f.StringVar(&conditions, "if", "", "IF conditions as a JSON document")

	f = compileInsertCmd.Flags()
	f.IntVar(&insertOpts.TTL, "ttl", 0, "USING TTL seconds")
	f.BoolVar(&insertOpts.IfNotExists, "if-not-exists", false, "Append IF NOT EXISTS")

	compileCmd.AddCommand(compileFindCmd, compileUpdateCmd, compileDeleteCmd, compileInsertCmd)
}

// compileInput resolves the table named by args[0] and decodes the remaining
// arguments as documents.
func compileInput(args []string) (*model.Model, []cql.M, error) {
	t, err := findTable(args[0])
	if err != nil {
		return nil, nil, err
	}
	docs := make([]cql.M, 0, len(args)-1)
	for _, a := range args[1:] {
		var doc cql.M
		if err := json.Unmarshal([]byte(a), &doc); err != nil {
			return nil, nil, fmt.Errorf("invalid document %s: %w", a, err)
		}
		docs = append(docs, doc)
	}
	return model.New(t, nil, nil, model.Options{Logger: logger}), docs, nil
}

func printCompiled(cs *model.CompiledStatement, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(generator.GenerateScript([]generator.Statement{cs.Statement}))
	return nil
}
