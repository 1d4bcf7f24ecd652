// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bgptable

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/lifetime"
)

// DB is the database of all tables on the server, keyed by table name.
type DB struct {
	lm *lifetime.Manager

	// mu protects tables.
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewDB returns a new table database. Deletion of tables is handled by lm.
func NewDB(lm *lifetime.Manager) *DB {
	return &DB{
		lm:     lm,
		tables: map[string]*Table{},
	}
}

// CreateTable creates a new table named name for family f. It returns an
// error if a table with the same name already exists.
func (d *DB) CreateTable(name string, f constants.Family) (*Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[name]; ok {
		return nil, fmt.Errorf("table %s already exists", name)
	}
	t := &Table{
		name:   name,
		family: f,
		db:     d,
		routes: map[string]*Route{},
	}
	t.deleter = d.lm.NewDeleter(name, &tableActor{t: t})
	d.tables[name] = t
	return t, nil
}

// FindTable returns the table with the specified name, or nil if it does not
// exist.
func (d *DB) FindTable(name string) *Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tables[name]
}

// RemoveTable removes t from the database.
func (d *DB) RemoveTable(t *Table) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tables[t.name] == t {
		delete(d.tables, t.name)
	}
}

// Len returns the number of tables in the database.
func (d *DB) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tables)
}

// Names returns the sorted names of the tables in the database.
func (d *DB) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ns := make([]string, 0, len(d.tables))
	for n := range d.tables {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}
