package domain

import (
	"regexp"

	"github.com/pkg/errors"
)

type ColumnType string

const (
	ColumnText    ColumnType = "TEXT"
	ColumnInteger ColumnType = "INTEGER"
	ColumnReal    ColumnType = "REAL"
)

type Column struct {
	Name string
	Type ColumnType
}

// Table declares an application table. Every table has an implicit
// "id TEXT PRIMARY KEY" column. Writes to local-only tables are not queued
// for upload.
type Table struct {
	Name      string
	Columns   []Column
	LocalOnly bool
}

type Schema struct {
	Tables []Table
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks names, since they end up in generated DDL.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Tables))
	for _, t := range s.Tables {
		if !identifier.MatchString(t.Name) {
			return errors.Errorf("invalid table name %q", t.Name)
		}
		if len(t.Name) > 3 && t.Name[:3] == "ps_" {
			return errors.Errorf("table name %q uses the reserved ps_ prefix", t.Name)
		}
		if _, ok := seen[t.Name]; ok {
			return errors.Errorf("duplicate table %q", t.Name)
		}
		seen[t.Name] = struct{}{}

		for _, c := range t.Columns {
			if !identifier.MatchString(c.Name) {
				return errors.Errorf("invalid column name %q in table %q", c.Name, t.Name)
			}
			if c.Name == "id" {
				return errors.Errorf("table %q declares the implicit id column", t.Name)
			}
			switch c.Type {
			case ColumnText, ColumnInteger, ColumnReal:
			default:
				return errors.Errorf("unsupported column type %q for %s.%s", c.Type, t.Name, c.Name)
			}
		}
	}
	return nil
}
