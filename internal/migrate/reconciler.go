package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/koba/cqlsync/internal/database"
	"github.com/koba/cqlsync/internal/diff"
	errs "github.com/koba/cqlsync/internal/errors"
	"github.com/koba/cqlsync/internal/generator"
	"github.com/koba/cqlsync/internal/schema"
)

// State is the path a reconciliation took.
type State string

const (
	StateCreated   State = "CREATED"
	StateUnchanged State = "UNCHANGED"
	StateAltered   State = "ALTERED"
	StateRecreated State = "RECREATED"
)

// Result describes a finished reconciliation. Statements holds the DDL that
// ran, in order, including on failure.
type Result struct {
	Table      string
	State      State
	Statements []string
}

const (
	promptRecreate     = `Migration: model schema changed for table "%s", drop table & recreate? (data will be lost!) (y/n): `
	promptAddField     = `Migration: model schema for table "%s" has added field "%s", proceed to alter table? (y/n): `
	promptRemoveField  = `Migration: model schema for table "%s" has removed field "%s", proceed to alter table? (data will be lost!) (y/n): `
	promptWidenField   = `Migration: model schema for table "%s" has new type for field "%s", proceed to alter table? (y/n): `
	promptReplaceField = `Migration: model schema for table "%s" has new incompatible type for field "%s", drop field & recreate? (data will be lost!) (y/n): `
	promptKeyField     = `Migration: model schema for table "%s" has new incompatible type for primary key field "%s", drop table & recreate? (data will be lost!) (y/n): `
	promptDropIndex    = `Migration: model schema for table "%s" has removed index "%s", drop it? (y/n): `
	promptDropCustom   = `Migration: model schema for table "%s" has removed custom index on "%s", drop it? (y/n): `
	promptDropView     = `Migration: model schema for table "%s" has removed or changed materialized view "%s", drop it? (y/n): `
)

// errRecreate switches the alter path to the drop path after the user agreed
// to recreate the table.
var errRecreate = errors.New("table recreation required")

// Reconciler brings live tables in line with their declarations.
type Reconciler struct {
	cfg     Config
	oracle  database.SchemaOracle
	exec    database.Executor
	confirm Confirmer
	logger  *slog.Logger
}

// NewReconciler creates a reconciler. A nil confirmer declines every prompt
// unless interactive confirmation is disabled.
func NewReconciler(cfg Config, oracle database.SchemaOracle, exec database.Executor, confirm Confirmer, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{cfg: cfg, oracle: oracle, exec: exec, confirm: confirm, logger: logger}
}

// Sync reconciles the live table with t. Every confirmation is asked before
// the first statement runs, so a declined prompt issues no DDL.
func (r *Reconciler) Sync(ctx context.Context, t *schema.Table) (*Result, error) {
	name := t.Name()
	declared := t.Schema()

	live, err := r.oracle.FetchLiveSchema(ctx, name)
	if err != nil {
		if errs.GetCode(err) != errs.CodeSchemaQuery {
			err = errs.Phase(errs.CodeSchemaQuery, name, err)
		}
		return nil, err
	}

	p := &planner{
		r:        r,
		declared: declared,
		ddl:      generator.NewDDLGenerator(name),
		steps:    NewPipeline(name, r.exec, r.logger),
	}

	if live == nil {
		r.logger.Info("table does not exist, creating", "table", name)
		p.create()
		return p.run(ctx, StateCreated)
	}

	dn, err := schema.Normalize(declared)
	if err != nil {
		return nil, err
	}
	ln, err := schema.Normalize(&live.TableSchema)
	if err != nil {
		return nil, err
	}
	if ln.Equal(dn) {
		r.logger.Debug("table is up to date", "table", name)
		return &Result{Table: name, State: StateUnchanged}, nil
	}
	p.normalized = dn

	d := diff.Compare(ln, dn)
	switch policy := r.cfg.EffectivePolicy(); policy {
	case PolicyAlter:
		if !d.KeyChanged {
			err := p.alter(live, d)
			if err == nil {
				return p.run(ctx, StateAltered)
			}
			if !errors.Is(err, errRecreate) {
				return nil, err
			}
			p.steps.Reset()
			p.recreate(live)
			return p.run(ctx, StateRecreated)
		}
		fallthrough
	case PolicyDrop:
		if err := p.confirm(promptRecreate, name); err != nil {
			return nil, err
		}
		p.recreate(live)
		return p.run(ctx, StateRecreated)
	default:
		r.logger.Warn("schema mismatch", "table", name, "policy", policy)
		return nil, errs.SchemaMismatch(name, "migration policy does not allow changes")
	}
}

func (r *Reconciler) approve(prompt string) (bool, error) {
	if r.cfg.DisableInteractiveConfirmation {
		r.logger.Info("auto approved", "prompt", prompt)
		return true, nil
	}
	if r.confirm == nil {
		r.logger.Warn("no confirmer, declining", "prompt", prompt)
		return false, nil
	}
	answer, err := r.confirm.Ask(prompt)
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return approved(answer), nil
}

// planner accumulates the DDL for one reconciliation.
type planner struct {
	r          *Reconciler
	declared   *schema.TableSchema
	normalized *schema.Normalized
	ddl        *generator.DDLGenerator
	steps      *Pipeline
}

func (p *planner) confirm(format string, args ...any) error {
	ok, err := p.r.approve(fmt.Sprintf(format, args...))
	if err != nil {
		return err
	}
	if !ok {
		return errs.SchemaMismatch(p.declared.Name, "migration was declined")
	}
	return nil
}

func (p *planner) run(ctx context.Context, state State) (*Result, error) {
	executed, err := p.steps.Run(ctx)
	res := &Result{Table: p.declared.Name, State: state, Statements: executed}
	if err != nil {
		return res, err
	}
	p.r.logger.Info("table reconciled", "table", p.declared.Name, "state", state, "statements", len(executed))
	return res, nil
}

// create plans the table, then its indexes, custom indexes and views.
func (p *planner) create() {
	p.steps.Add(errs.CodeCreate, p.ddl.CreateTable(p.declared))
	for _, idx := range p.declared.Indexes {
		p.steps.Add(errs.CodeIndexCreate, p.ddl.CreateIndex(idx))
	}
	for _, ci := range p.declared.CustomIndexes {
		p.steps.Add(errs.CodeIndexCreate, p.ddl.CreateCustomIndex(ci))
	}
	for _, name := range slices.Sorted(maps.Keys(p.declared.MaterializedViews)) {
		p.steps.Add(errs.CodeMatViewCreate, p.ddl.CreateMaterializedView(name, p.declared.MaterializedViews[name]))
	}
}

// recreate plans dropping the views and the table, then creating it again.
func (p *planner) recreate(live *schema.LiveSchema) {
	for _, name := range slices.Sorted(maps.Keys(live.MaterializedViews)) {
		p.steps.Add(errs.CodeMatViewDrop, p.ddl.DropMaterializedView(name))
	}
	p.steps.Add(errs.CodeDrop, p.ddl.DropTable())
	p.create()
}

// alter plans field changes against a working copy of live, then the
// residual index and view changes.
func (p *planner) alter(live *schema.LiveSchema, d *diff.SchemaDiff) error {
	table := p.declared.Name
	work := live.Clone()

	for _, c := range d.Fields {
		name := c.Field()
		switch c.Kind {
		case diff.KindAdded:
			f, _ := p.declared.Field(name)
			if err := p.confirm(promptAddField, table, name); err != nil {
				return err
			}
			p.steps.Add(errs.CodeAlter, p.ddl.AddColumn(name, f.FullType(), f.Static))
			setField(work, f)

		case diff.KindRemoved:
			if err := p.confirm(promptRemoveField, table, name); err != nil {
				return err
			}
			if err := p.dropDependents(work, name); err != nil {
				return err
			}
			p.steps.Add(errs.CodeAlter, p.ddl.DropColumn(name))
			removeField(work, name)

		case diff.KindChanged:
			f, _ := p.declared.Field(name)
			if c.Attribute() == "type" && CanWiden(c.Old.(string), c.New.(string)) {
				if err := p.confirm(promptWidenField, table, name); err != nil {
					return err
				}
				p.steps.Add(errs.CodeAlter, p.ddl.AlterColumnType(name, f.FullType()))
				setField(work, f)
				continue
			}
			if live.Key.Contains(name) {
				if err := p.confirm(promptKeyField, table, name); err != nil {
					return err
				}
				return errRecreate
			}
			if err := p.confirm(promptReplaceField, table, name); err != nil {
				return err
			}
			if err := p.dropDependents(work, name); err != nil {
				return err
			}
			p.steps.Add(errs.CodeAlter, p.ddl.DropColumn(name))
			p.steps.Add(errs.CodeAlter, p.ddl.AddColumn(name, f.FullType(), f.Static))
			setField(work, f)
		}
	}

	return p.residual(work)
}

// residual plans the index and view changes the field changes left over:
// drops of views, indexes and custom indexes, then creation of indexes,
// custom indexes and views.
func (p *planner) residual(work *schema.LiveSchema) error {
	table := p.declared.Name
	wn, err := schema.Normalize(&work.TableSchema)
	if err != nil {
		return err
	}
	d := diff.Compare(wn, p.normalized)

	for _, name := range d.ViewsRemoved {
		if err := p.confirm(promptDropView, table, name); err != nil {
			return err
		}
		p.steps.Add(errs.CodeMatViewDrop, p.ddl.DropMaterializedView(name))
	}
	for _, target := range d.IndexesRemoved {
		name, ok := work.IndexNames[target]
		if !ok {
			return errs.InvalidSchema("index on %q of table %q has no known name", target, table)
		}
		if err := p.confirm(promptDropIndex, table, name); err != nil {
			return err
		}
		p.steps.Add(errs.CodeIndexDrop, p.ddl.DropIndex(name))
	}
	for _, ci := range d.CustomIndexesRemoved {
		name, ok := work.CustomIndexNames[ci.Hash]
		if !ok {
			return errs.InvalidSchema("custom index on %q of table %q has no known name", ci.On, table)
		}
		if err := p.confirm(promptDropCustom, table, ci.On); err != nil {
			return err
		}
		p.steps.Add(errs.CodeIndexDrop, p.ddl.DropIndex(name))
	}

	for _, target := range d.IndexesAdded {
		p.steps.Add(errs.CodeIndexCreate, p.ddl.CreateIndex(target))
	}
	for _, ci := range d.CustomIndexesAdded {
		p.steps.Add(errs.CodeIndexCreate, p.ddl.CreateCustomIndex(ci.CustomIndex))
	}
	for _, name := range d.ViewsAdded {
		p.steps.Add(errs.CodeMatViewCreate, p.ddl.CreateMaterializedView(name, p.declared.MaterializedViews[name]))
	}
	return nil
}

// dropDependents plans dropping every view, index and custom index that
// refers to field, and removes them from work.
func (p *planner) dropDependents(work *schema.LiveSchema, field string) error {
	table := p.declared.Name

	for _, name := range slices.Sorted(maps.Keys(work.MaterializedViews)) {
		if viewUses(work.MaterializedViews[name], field) {
			p.steps.Add(errs.CodeMatViewDrop, p.ddl.DropMaterializedView(name))
			delete(work.MaterializedViews, name)
		}
	}

	var keep []string
	for _, target := range work.Indexes {
		if schema.IndexColumn(target) != field {
			keep = append(keep, target)
			continue
		}
		canonical := schema.CanonicalIndex(target)
		name, ok := work.IndexNames[canonical]
		if !ok {
			return errs.InvalidSchema("index on %q of table %q has no known name", target, table)
		}
		p.steps.Add(errs.CodeIndexDrop, p.ddl.DropIndex(name))
		delete(work.IndexNames, canonical)
	}
	work.Indexes = keep

	var keepCustom []schema.CustomIndex
	for _, ci := range work.CustomIndexes {
		if schema.IndexColumn(ci.On) != field {
			keepCustom = append(keepCustom, ci)
			continue
		}
		hash := schema.CustomIndexHash(ci)
		name, ok := work.CustomIndexNames[hash]
		if !ok {
			return errs.InvalidSchema("custom index on %q of table %q has no known name", ci.On, table)
		}
		p.steps.Add(errs.CodeIndexDrop, p.ddl.DropIndex(name))
		delete(work.CustomIndexNames, hash)
	}
	work.CustomIndexes = keepCustom
	return nil
}

func viewUses(v schema.MaterializedView, field string) bool {
	return slices.Contains(v.Select, "*") || slices.Contains(v.Select, field) || v.Key.Contains(field)
}

func setField(work *schema.LiveSchema, f *schema.FieldSchema) {
	cp := &schema.FieldSchema{Name: f.Name, Type: f.Type, TypeDef: f.TypeDef, Static: f.Static}
	for i, existing := range work.Fields {
		if existing.Name == f.Name {
			work.Fields[i] = cp
			return
		}
	}
	work.Fields = append(work.Fields, cp)
}

func removeField(work *schema.LiveSchema, name string) {
	work.Fields = slices.DeleteFunc(work.Fields, func(f *schema.FieldSchema) bool {
		return f.Name == name
	})
}
