package domain

import (
	"encoding/json"
	"sort"
)

// ChangeSet is the set of table names touched by one unit of database work.
type ChangeSet map[string]struct{}

func NewChangeSet(tables ...string) ChangeSet {
	c := make(ChangeSet, len(tables))
	for _, t := range tables {
		c.Add(t)
	}
	return c
}

func (c ChangeSet) Add(table string) {
	c[table] = struct{}{}
}

func (c ChangeSet) Contains(table string) bool {
	_, ok := c[table]
	return ok
}

func (c ChangeSet) Len() int {
	return len(c)
}

func (c ChangeSet) IsEmpty() bool {
	return len(c) == 0
}

// Tables returns the table names in lexical order.
func (c ChangeSet) Tables() []string {
	out := make([]string, 0, len(c))
	for t := range c {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (c ChangeSet) Clone() ChangeSet {
	out := make(ChangeSet, len(c))
	for t := range c {
		out[t] = struct{}{}
	}
	return out
}

// Intersects reports whether any of tables is in c. An empty list matches
// every non-empty change set.
func (c ChangeSet) Intersects(tables []string) bool {
	if len(tables) == 0 {
		return !c.IsEmpty()
	}
	for _, t := range tables {
		if c.Contains(t) {
			return true
		}
	}
	return false
}

func (c ChangeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Tables())
}

func (c *ChangeSet) UnmarshalJSON(data []byte) error {
	var tables []string
	if err := json.Unmarshal(data, &tables); err != nil {
		return err
	}
	*c = NewChangeSet(tables...)
	return nil
}
