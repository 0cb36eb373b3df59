package database

import (
	"context"
	"errors"
	"log/slog"

	gocql "github.com/apache/cassandra-gocql-driver/v2"

	errs "github.com/koba/cqlsync/internal/errors"
)

// schemaMismatchCode is the protocol error code for an invalid query, which
// is what the server answers when a statement refers to a column or table
// that does not match its schema.
const schemaMismatchCode = 0x2200

// Cassandra implements Executor on a gocql session.
type Cassandra struct {
	session *gocql.Session
	logger  *slog.Logger
}

// NewCassandra wraps an open session.
func NewCassandra(session *gocql.Session, logger *slog.Logger) *Cassandra {
	return &Cassandra{session: session, logger: logger}
}

// Connect opens a session from config.
func Connect(cfg Config, logger *slog.Logger) (*Cassandra, error) {
	session, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("connected", "hosts", cfg.Hosts, "keyspace", cfg.Keyspace)
	return NewCassandra(session, logger), nil
}

// Close closes the session
func (c *Cassandra) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return nil
}

// Execute runs stmt and collects its rows. With a FetchSize or a PageState the
// query is paged by the caller: one page is returned together with the state
// of the next one. Otherwise the driver pages through every row. gocql
// prepares statements that carry bound values on its own, so opts.Prepare is
// advisory here.
func (c *Cassandra) Execute(ctx context.Context, stmt string, params []any, opts ExecOptions) (*ResultSet, error) {
	c.logger.Debug("execute", "stmt", stmt, "params", len(params))

	q := c.session.Query(stmt, params...)
	switch {
	case opts.NoPaging:
		q = q.PageSize(0)
	case opts.FetchSize > 0:
		q = q.PageSize(opts.FetchSize)
	}
	paged := opts.Paged()
	if paged {
		// disables automatic paging
		q = q.PageState(opts.PageState)
	}

	iter := q.IterContext(ctx)
	rs := &ResultSet{}
	if paged {
		rs.PageState = iter.PageState()
	}
	for _, col := range iter.Columns() {
		rs.Columns = append(rs.Columns, col.Name)
	}
	for {
		row := map[string]any{}
		if !iter.MapScan(row) {
			break
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := iter.Close(); err != nil {
		return nil, errs.DBError("failed to execute statement", err)
	}
	return rs, nil
}

// IsSchemaMismatch reports whether err is a server side invalid query error.
func IsSchemaMismatch(err error) bool {
	var reqErr interface{ Code() int }
	if errors.As(err, &reqErr) {
		return reqErr.Code() == schemaMismatchCode
	}
	return false
}
