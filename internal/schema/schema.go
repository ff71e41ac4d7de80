package schema

import (
	"fmt"
	"sort"
	"strings"
)

type ForeignKeyRef struct {
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}

type Column struct {
	Name       string         `json:"name" yaml:"name"`
	Type       string         `json:"type,omitempty" yaml:"type,omitempty"`
	Nullable   bool           `json:"nullable" yaml:"nullable"`
	PrimaryKey bool           `json:"primary_key" yaml:"primary_key"`
	ForeignKey *ForeignKeyRef `json:"foreign_key,omitempty" yaml:"foreign_key,omitempty"`
}

type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []Column `json:"columns" yaml:"columns"`
}

// Descriptor is an immutable snapshot of the target database structure.
// Name lookups are case-insensitive.
type Descriptor struct {
	tables  []Table
	byName  map[string]int
	columns []map[string]int
}

func NewDescriptor(tables []Table) (*Descriptor, error) {
	copied := make([]Table, 0, len(tables))
	for _, table := range tables {
		name := strings.TrimSpace(table.Name)
		if name == "" {
			return nil, fmt.Errorf("table name is required")
		}
		columns := make([]Column, len(table.Columns))
		for i, column := range table.Columns {
			columns[i] = column
			if column.ForeignKey != nil {
				ref := *column.ForeignKey
				columns[i].ForeignKey = &ref
			}
		}
		copied = append(copied, Table{Name: name, Columns: columns})
	}
	sort.SliceStable(copied, func(i, j int) bool {
		return strings.ToLower(copied[i].Name) < strings.ToLower(copied[j].Name)
	})

	desc := &Descriptor{
		tables:  copied,
		byName:  make(map[string]int, len(copied)),
		columns: make([]map[string]int, len(copied)),
	}
	for i, table := range copied {
		key := strings.ToLower(table.Name)
		if _, exists := desc.byName[key]; exists {
			return nil, fmt.Errorf("duplicate table %q", table.Name)
		}
		desc.byName[key] = i
		index := make(map[string]int, len(table.Columns))
		for j, column := range table.Columns {
			colKey := strings.ToLower(column.Name)
			if _, exists := index[colKey]; !exists {
				index[colKey] = j
			}
		}
		desc.columns[i] = index
	}
	return desc, nil
}

// Tables returns a copy of the tables ordered by name.
func (d *Descriptor) Tables() []Table {
	if d == nil {
		return nil
	}
	out := make([]Table, len(d.tables))
	for i, table := range d.tables {
		out[i] = Table{Name: table.Name, Columns: append([]Column(nil), table.Columns...)}
	}
	return out
}

func (d *Descriptor) Len() int {
	if d == nil {
		return 0
	}
	return len(d.tables)
}

func (d *Descriptor) Table(name string) (Table, bool) {
	if d == nil {
		return Table{}, false
	}
	i, ok := d.byName[strings.ToLower(name)]
	if !ok {
		return Table{}, false
	}
	table := d.tables[i]
	return Table{Name: table.Name, Columns: append([]Column(nil), table.Columns...)}, true
}

func (d *Descriptor) HasTable(name string) bool {
	if d == nil {
		return false
	}
	_, ok := d.byName[strings.ToLower(name)]
	return ok
}

func (d *Descriptor) HasColumn(table, column string) bool {
	if d == nil {
		return false
	}
	i, ok := d.byName[strings.ToLower(table)]
	if !ok {
		return false
	}
	_, ok = d.columns[i][strings.ToLower(column)]
	return ok
}

func (t Table) Column(name string) (Column, bool) {
	for _, column := range t.Columns {
		if strings.EqualFold(column.Name, name) {
			return column, true
		}
	}
	return Column{}, false
}
