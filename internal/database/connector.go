// Package database holds the collaborator contracts of the reconciliation
// engine and the model layer, and their gocql implementation.
package database

import (
	"context"
	"fmt"
	"time"

	gocql "github.com/apache/cassandra-gocql-driver/v2"

	"github.com/koba/cqlsync/internal/schema"
)

// Config holds cluster connection configuration
type Config struct {
	Hosts       []string      `koanf:"hosts"`
	Port        int           `koanf:"port"`
	Keyspace    string        `koanf:"keyspace"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	Consistency string        `koanf:"consistency"`
	Timeout     time.Duration `koanf:"timeout"`
}

// ExecOptions control how a statement is executed.
type ExecOptions struct {
	// Prepare asks the driver to prepare the statement. Statements with bound
	// parameters are always prepared by gocql.
	Prepare bool
	// FetchSize is the page size. Zero uses the driver default.
	FetchSize int
	// NoPaging fetches the whole result in one response.
	NoPaging bool
	// PageState resumes a paged query where the previous page ended.
	PageState []byte
}

// Paged reports whether the caller pages through the result one page at a
// time.
func (o ExecOptions) Paged() bool {
	return !o.NoPaging && (o.FetchSize > 0 || len(o.PageState) > 0)
}

// DefinitionQuery is the option profile for schema statements: unprepared and
// not paged.
var DefinitionQuery = ExecOptions{NoPaging: true}

// ResultSet holds the rows of a statement. PageState is set for paged
// executions and is empty on the last page.
type ResultSet struct {
	Columns   []string
	Rows      []map[string]any
	PageState []byte
}

// Executor runs a statement.
type Executor interface {
	Execute(ctx context.Context, stmt string, params []any, opts ExecOptions) (*ResultSet, error)
}

// SchemaOracle introspects the live definition of a table. It returns nil and
// no error when the table does not exist.
type SchemaOracle interface {
	FetchLiveSchema(ctx context.Context, table string) (*schema.LiveSchema, error)
}

// NewSession creates a gocql session from config.
func NewSession(cfg Config) (*gocql.Session, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("at least one host is required")
	}
	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.Consistency != "" {
		c, err := parseConsistency(cfg.Consistency)
		if err != nil {
			return nil, err
		}
		cluster.Consistency = c
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}
	return session, nil
}

func parseConsistency(s string) (gocql.Consistency, error) {
	c, err := gocql.ParseConsistencyWrapper(s)
	if err != nil {
		return 0, fmt.Errorf("unsupported consistency level %q: %w", s, err)
	}
	return c, nil
}
