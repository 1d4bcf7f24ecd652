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

// Package lifetime implements deferred deletion of reference counted
// entities. An entity that is deleted first enters a draining state, during
// which it is shut down, and is destroyed only once every holder of a
// reference to it has released that reference. There is no timeout: a
// reference that is never released stalls the deletion indefinitely.
//
// All processing is performed by calling Manager.Process from a single
// serializing context, which is the same context that mutates the entities.
package lifetime

import (
	"fmt"
	"sync"

	log "github.com/golang/glog"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Actor is implemented by each type of entity whose deletion is managed.
type Actor interface {
	// MayDelete reports whether the entity is ready to be destroyed, in
	// addition to having no outstanding references.
	MayDelete() bool
	// Shutdown is called exactly once, when the entity is first processed
	// after deletion was requested.
	Shutdown()
	// Destroy is called exactly once, when the entity has been shut down,
	// MayDelete returns true and no references are outstanding.
	Destroy()
}

// Dependent is implemented by entities that hold a Ref on a parent, and that
// must themselves be deleted when the parent is deleted.
type Dependent interface {
	// ManagedDelete requests deletion of the dependent.
	ManagedDelete()
}

// State is the deletion state of an entity.
type State int64

const (
	// Live indicates that deletion has not been requested.
	Live State = iota
	// Draining indicates that deletion was requested and the entity is waiting
	// for its references to be released.
	Draining
	// Destroyed indicates that the entity has been destroyed.
	Destroyed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Live:
		return "LIVE"
	case Draining:
		return "DRAINING"
	case Destroyed:
		return "DESTROYED"
	}
	return fmt.Sprintf("State(%d)", int64(s))
}

// Manager queues deleters that have work to do, and runs that work when
// Process is called.
type Manager struct {
	// mu protects queue and paused.
	mu     sync.Mutex
	queue  []*Deleter
	paused bool

	// wake is signalled when work is queued and the manager is not paused.
	wake chan struct{}

	// destroyed counts the deleters that have been destroyed.
	destroyed *atomic.Uint64
}

// NewManager returns a new lifetime manager.
func NewManager() *Manager {
	return &Manager{
		wake:      make(chan struct{}, 1),
		destroyed: atomic.NewUint64(0),
	}
}

// Notify returns a channel that receives a value when there is work for
// Process to do. The owner of the serializing context should call Process
// when the channel is readable.
func (m *Manager) Notify() <-chan struct{} {
	return m.wake
}

// Pause stops Process from doing any work until Resume is called.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

// Resume allows Process to run queued work again.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	if len(m.queue) != 0 {
		m.signal()
	}
}

// Paused reports whether the manager is paused.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Pending returns the number of deleters that are queued for processing.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Destroyed returns the number of entities that have been destroyed by the
// manager.
func (m *Manager) Destroyed() uint64 {
	return m.destroyed.Load()
}

// signal wakes the owner of the manager. It must be called with mu held.
func (m *Manager) signal() {
	if m.paused {
		return
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// enqueue adds d to the queue of deleters to be processed.
func (m *Manager) enqueue(d *Deleter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.queued {
		return
	}
	d.queued = true
	m.queue = append(m.queue, d)
	m.signal()
}

// dequeue returns the next deleter to be processed, or nil if there is none
// or the manager is paused.
func (m *Manager) dequeue() *Deleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused || len(m.queue) == 0 {
		return nil
	}
	d := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	d.queued = false
	return d
}

// Process runs all queued work, including work that is queued as a result of
// processing, until the queue is empty or the manager is paused. It returns
// the number of entities that were destroyed. Process must only be called
// from the serializing context that owns the managed entities.
func (m *Manager) Process() int {
	var n int
	for d := m.dequeue(); d != nil; d = m.dequeue() {
		if d.process() {
			n++
		}
	}
	return n
}

// NewDeleter returns a deleter for actor a. The name is used only for
// logging.
func (m *Manager) NewDeleter(name string, a Actor) *Deleter {
	return &Deleter{
		id:    uuid.New(),
		name:  name,
		m:     m,
		actor: a,
		refs:  atomic.NewInt64(0),
	}
}

// Deleter tracks the deletion state of a single entity.
type Deleter struct {
	id    uuid.UUID
	name  string
	m     *Manager
	actor Actor

	state      State
	isShutdown bool
	// queued is protected by the manager's mu.
	queued bool

	// refs is the number of outstanding references to the entity.
	refs *atomic.Int64
	// dependents are the references held on this deleter by entities that
	// are deleted along with it.
	dependents []*Ref
}

// ID returns the unique identifier of the deleter.
func (d *Deleter) ID() string {
	return d.id.String()
}

// Name returns the name the deleter was created with.
func (d *Deleter) Name() string {
	return d.name
}

// State returns the current deletion state.
func (d *Deleter) State() State {
	return d.state
}

// IsDeleted reports whether deletion of the entity has been requested.
func (d *Deleter) IsDeleted() bool {
	return d.state != Live
}

// IsShutdown reports whether the entity's Shutdown has been called.
func (d *Deleter) IsShutdown() bool {
	return d.isShutdown
}

// Refs returns the number of outstanding references to the entity.
func (d *Deleter) Refs() int64 {
	return d.refs.Load()
}

// Delete requests deletion of the entity. Dependents are asked to delete
// themselves, and the entity is queued for processing. Calling Delete on an
// entity that is already being deleted has no effect.
func (d *Deleter) Delete() {
	if d.state != Live {
		return
	}
	d.state = Draining
	log.V(2).Infof("lifetime: delete %s (%s), %d references", d.name, d.id, d.refs.Load())

	// A dependent may reset its reference synchronously, so walk a copy.
	deps := append([]*Ref(nil), d.dependents...)
	for _, r := range deps {
		r.dependent.ManagedDelete()
	}
	d.m.enqueue(d)
}

// Acquire records a new outstanding reference to the entity.
func (d *Deleter) Acquire() {
	d.refs.Inc()
}

// Release removes an outstanding reference to the entity. When the last
// reference is released from a draining entity, it is queued so that it can
// be destroyed.
func (d *Deleter) Release() {
	n := d.refs.Dec()
	if n < 0 {
		panic(fmt.Sprintf("lifetime: reference count of %s (%s) is negative", d.name, d.id))
	}
	if n == 0 && d.state == Draining {
		d.m.enqueue(d)
	}
}

// RetryDelete queues a draining entity for processing again. It should be
// called when the result of the actor's MayDelete may have changed.
func (d *Deleter) RetryDelete() {
	if d.state == Draining {
		d.m.enqueue(d)
	}
}

// process runs the work for a single draining entity, and returns true if it
// was destroyed.
func (d *Deleter) process() bool {
	if d.state != Draining {
		return false
	}
	if !d.isShutdown {
		d.isShutdown = true
		log.V(2).Infof("lifetime: shutdown %s (%s)", d.name, d.id)
		d.actor.Shutdown()
	}
	if n := d.refs.Load(); n != 0 {
		log.V(2).Infof("lifetime: %s (%s) waiting for %d references", d.name, d.id, n)
		return false
	}
	if !d.actor.MayDelete() {
		return false
	}
	d.state = Destroyed
	log.V(2).Infof("lifetime: destroy %s (%s)", d.name, d.id)
	d.actor.Destroy()
	d.m.destroyed.Inc()
	return true
}

// Ref is a reference held by a dependent entity on a parent entity. The
// parent cannot be destroyed while the reference is held, and deleting the
// parent requests deletion of the dependent.
type Ref struct {
	dependent Dependent
	parent    *Deleter
}

// NewRef returns a reference from dependent to parent. A nil parent returns a
// reference that holds nothing.
func NewRef(dependent Dependent, parent *Deleter) *Ref {
	r := &Ref{dependent: dependent, parent: parent}
	if parent != nil {
		parent.Acquire()
		parent.dependents = append(parent.dependents, r)
	}
	return r
}

// Parent returns the deleter of the entity that the reference is held on, or
// nil if the reference has been reset.
func (r *Ref) Parent() *Deleter {
	return r.parent
}

// Reset releases the reference. Resetting a reference more than once has no
// effect.
func (r *Ref) Reset() {
	p := r.parent
	if p == nil {
		return
	}
	r.parent = nil
	for i, dr := range p.dependents {
		if dr == r {
			p.dependents = append(p.dependents[:i], p.dependents[i+1:]...)
			break
		}
	}
	p.Release()
}
