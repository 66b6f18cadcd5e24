package models

import (
	"fmt"
	"strings"
)

// ForeignKeyRef points a column at the column it references.
type ForeignKeyRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// ColumnDescriptor describes one column of an introspected table.
type ColumnDescriptor struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Nullable   bool           `json:"nullable"`
	PrimaryKey bool           `json:"primary_key,omitempty"`
	ForeignKey *ForeignKeyRef `json:"foreign_key,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}

// TableDescriptor describes one introspected table.
type TableDescriptor struct {
	Name    string             `json:"name"`
	Comment string             `json:"comment,omitempty"`
	Columns []ColumnDescriptor `json:"columns"`
}

// SchemaDescriptor is the engine-neutral schema snapshot adapters
// produce and the schema agent ranks against questions.
type SchemaDescriptor struct {
	Dialect string            `json:"dialect"`
	Tables  []TableDescriptor `json:"tables"`
}

// Table returns the named table, or nil.
func (s *SchemaDescriptor) Table(name string) *TableDescriptor {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i]
		}
	}
	return nil
}

// DDLSummary renders the schema as compact CREATE TABLE text for LLM
// prompts. Key columns carry inline PK/FK annotations.
func (s *SchemaDescriptor) DDLSummary() string {
	var b strings.Builder
	for ti, t := range s.Tables {
		if ti > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", t.Name)
		for ci, c := range t.Columns {
			fmt.Fprintf(&b, "  %s %s", c.Name, c.Type)
			if !c.Nullable {
				b.WriteString(" NOT NULL")
			}
			if c.PrimaryKey {
				b.WriteString(" PRIMARY KEY")
			}
			if c.ForeignKey != nil {
				fmt.Fprintf(&b, " REFERENCES %s(%s)", c.ForeignKey.Table, c.ForeignKey.Column)
			}
			if ci < len(t.Columns)-1 {
				b.WriteString(",")
			}
			if c.Comment != "" {
				fmt.Fprintf(&b, " -- %s", c.Comment)
			}
			b.WriteString("\n")
		}
		b.WriteString(");\n")
	}
	return b.String()
}
