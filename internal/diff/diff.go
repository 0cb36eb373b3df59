// Package diff compares a live table with its declaration.
package diff

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/koba/cqlsync/internal/schema"
)

// Render prints the diff result in a human-readable format
func Render(w io.Writer, d *SchemaDiff) {
	if d.Empty() {
		_, _ = fmt.Fprintf(w, "Table %s: no differences found.\n", d.Table)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Table: " + d.Table)
	t.AppendHeader(table.Row{"Object", "Name", "Change", "Live", "Declared"})

	if d.KeyChanged {
		t.AppendRow(table.Row{"key", "primary key", KindChanged, "", ""})
	}
	for _, c := range d.Fields {
		name := strings.Join(c.Path, ".")
		t.AppendRow(table.Row{"field", name, c.Kind, describe(c.Old), describe(c.New)})
	}
	for _, idx := range d.IndexesRemoved {
		t.AppendRow(table.Row{"index", idx, KindRemoved, idx, ""})
	}
	for _, idx := range d.IndexesAdded {
		t.AppendRow(table.Row{"index", idx, KindAdded, "", idx})
	}
	for _, ci := range d.CustomIndexesRemoved {
		t.AppendRow(table.Row{"custom index", ci.On, KindRemoved, ci.Using, ""})
	}
	for _, ci := range d.CustomIndexesAdded {
		t.AppendRow(table.Row{"custom index", ci.On, KindAdded, "", ci.Using})
	}
	for _, v := range d.ViewsRemoved {
		t.AppendRow(table.Row{"materialized view", v, KindRemoved, v, ""})
	}
	for _, v := range d.ViewsAdded {
		t.AppendRow(table.Row{"materialized view", v, KindAdded, "", v})
	}
	t.Render()
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case schema.NormalizedField:
		s := x.Type + x.TypeDef
		if x.Static {
			s += " static"
		}
		return s
	default:
		return fmt.Sprint(x)
	}
}
