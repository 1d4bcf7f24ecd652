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
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/vrfmgr/constants"
	"github.com/openconfig/vrfmgr/lifetime"
	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
)

// owner is a stand-in for a routing instance that owns tables.
type owner struct {
	tables  map[string]*Table
	deleted bool
}

func (o *owner) MayDelete() bool { return true }
func (o *owner) Shutdown()       {}
func (o *owner) Destroy()        { o.deleted = true }

func TestCreateTable(t *testing.T) {
	db := NewDB(lifetime.NewManager())
	if _, err := db.CreateTable("red.inet.0", constants.INET); err != nil {
		t.Fatalf("cannot create table, %v", err)
	}
	if _, err := db.CreateTable("red.inet.0", constants.INET); err == nil {
		t.Fatalf("did not get error for duplicate table")
	}
	if _, err := db.CreateTable("red.evpn.0", constants.EVPN); err != nil {
		t.Fatalf("cannot create table, %v", err)
	}
	if diff := cmp.Diff(db.Names(), []string{"red.evpn.0", "red.inet.0"}); diff != "" {
		t.Fatalf("did not get expected tables, diff(-got,+want):\n%s", diff)
	}
	if got := db.FindTable("red.evpn.0"); got == nil || got.Family() != constants.EVPN {
		t.Fatalf("did not find expected table, got: %v", got)
	}
}

func TestRoutes(t *testing.T) {
	db := NewDB(lifetime.NewManager())
	tbl, err := db.CreateTable("red.inet.0", constants.INET)
	if err != nil {
		t.Fatalf("cannot create table, %v", err)
	}

	rt := bgp.NewTwoOctetAsSpecificExtended(bgp.EC_SUBTYPE_ROUTE_TARGET, 64512, 1, true)
	for _, p := range []string{"192.0.2.0/24", "198.51.100.0/24"} {
		if err := tbl.AddRoute(p, rt); err != nil {
			t.Fatalf("cannot add route %s, %v", p, err)
		}
	}
	if err := tbl.AddRoute(""); err == nil {
		t.Fatalf("did not get error for empty prefix")
	}

	var notified []string
	tbl.SetListener(func(_ *Table, r *Route) {
		notified = append(notified, r.Prefix)
	})
	tbl.NotifyAllEntries()
	tbl.NotifyAllEntries()

	if got, want := tbl.NotifyCount(), 2; got != want {
		t.Fatalf("did not get expected notify count, got: %d, want: %d", got, want)
	}
	if got, want := len(notified), 4; got != want {
		t.Fatalf("did not get expected number of notifications, got: %d, want: %d", got, want)
	}
	r, ok := tbl.Route("192.0.2.0/24")
	if !ok {
		t.Fatalf("cannot find route")
	}
	if r.Generation != 2 {
		t.Fatalf("did not get expected generation, got: %d, want: 2", r.Generation)
	}

	if !tbl.DeleteRoute("192.0.2.0/24") || tbl.DeleteRoute("192.0.2.0/24") {
		t.Fatalf("DeleteRoute did not report presence correctly")
	}
	if got, want := tbl.Size(), 1; got != want {
		t.Fatalf("did not get expected size, got: %d, want: %d", got, want)
	}
}

func TestTableDeletion(t *testing.T) {
	lm := lifetime.NewManager()
	db := NewDB(lm)
	o := &owner{tables: map[string]*Table{}}
	od := lm.NewDeleter("red", o)

	tbl, err := db.CreateTable("red.inet.0", constants.INET)
	if err != nil {
		t.Fatalf("cannot create table, %v", err)
	}
	tbl.SetRoutingInstance("red", od, func(t *Table) { delete(o.tables, t.Name()) })
	o.tables[tbl.Name()] = tbl
	if err := tbl.AddRoute("192.0.2.0/24"); err != nil {
		t.Fatalf("cannot add route, %v", err)
	}

	// Deleting the owner deletes the table, which flushes its routes.
	od.Delete()
	if err := tbl.AddRoute("198.51.100.0/24"); err == nil {
		t.Fatalf("could add route to a table that is being deleted")
	}
	if n := lm.Process(); n != 2 {
		t.Fatalf("did not destroy table and owner, destroyed: %d", n)
	}
	if !o.deleted || len(o.tables) != 0 || db.Len() != 0 {
		t.Fatalf("unexpected state after deletion, owner deleted: %v, tables: %v, db: %v", o.deleted, o.tables, db.Names())
	}
	if tbl.Size() != 0 {
		t.Fatalf("table has routes after deletion, got: %d", tbl.Size())
	}
}

func TestConcurrentAddDelete(t *testing.T) {
	db := NewDB(lifetime.NewManager())
	tbl, err := db.CreateTable("red.inet.0", constants.INET)
	if err != nil {
		t.Fatalf("cannot create table, %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				pfx := fmt.Sprintf("10.%d.%d.0/24", w, i%8)
				if err := tbl.AddRoute(pfx); err != nil {
					errCh <- err
					return
				}
				tbl.DeleteRoute(pfx)
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("cannot add route, %v", err)
	}
	if got := tbl.Size(); got != 0 {
		t.Fatalf("did not get expected empty table, got: %d routes", got)
	}
}
