package migrate

import (
	"context"
	"log/slog"

	"github.com/koba/cqlsync/internal/database"
	errs "github.com/koba/cqlsync/internal/errors"
)

// Step is one DDL statement tagged with the phase it belongs to.
type Step struct {
	Phase string
	Stmt  string
}

// Pipeline runs DDL steps sequentially and stops on the first failure.
// Steps that already ran are not rolled back.
type Pipeline struct {
	table  string
	exec   database.Executor
	logger *slog.Logger
	steps  []Step
}

// NewPipeline creates an empty pipeline for table.
func NewPipeline(table string, exec database.Executor, logger *slog.Logger) *Pipeline {
	return &Pipeline{table: table, exec: exec, logger: logger}
}

// Add appends a step.
func (p *Pipeline) Add(phase, stmt string) {
	p.steps = append(p.steps, Step{Phase: phase, Stmt: stmt})
}

// Steps returns the planned steps.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Reset discards every planned step.
func (p *Pipeline) Reset() {
	p.steps = nil
}

// Run executes the steps in order. It returns the statements that completed
// and, on failure, the error tagged with the failing step's phase.
func (p *Pipeline) Run(ctx context.Context) ([]string, error) {
	executed := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		p.logger.Info("executing", "table", p.table, "phase", s.Phase, "stmt", s.Stmt)
		if _, err := p.exec.Execute(ctx, s.Stmt, nil, database.DefinitionQuery); err != nil {
			p.logger.Error("step failed", "table", p.table, "phase", s.Phase, "error", err)
			return executed, errs.Phase(s.Phase, p.table, err)
		}
		executed = append(executed, s.Stmt)
	}
	return executed, nil
}
