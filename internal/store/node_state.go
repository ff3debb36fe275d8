// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"sync"
	"time"
)

// NodeState is the mutable record of one node's progress through a single
// evaluation: its status, the resolved input once it reaches InputReady,
// its fingerprint, and its terminal output or error. Reads and writes go
// through accessor methods guarded by an internal mutex, mirroring the
// setStatus/State() accessor pairing a scheduler's node type typically
// exposes, so the scheduler's dispatch loop and any concurrent progress
// observers never race.
type NodeState struct {
	mu sync.Mutex

	Handle string

	status      Status
	resolved    any
	fingerprint string
	output      any
	err         error
	startedAt   time.Time
	finishedAt  time.Time
}

// NewNodeState creates a node state in StatusPending.
func NewNodeState(handle string) *NodeState {
	return &NodeState{Handle: handle, status: StatusPending}
}

func (n *NodeState) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *NodeState) SetStatus(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = s
	switch s {
	case StatusRunning:
		n.startedAt = time.Now()
	case StatusCompleted, StatusFailed, StatusSkipped:
		n.finishedAt = time.Now()
	}
}

func (n *NodeState) SetResolved(input any, fingerprint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = input
	n.fingerprint = fingerprint
}

func (n *NodeState) Resolved() (any, string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resolved, n.fingerprint
}

func (n *NodeState) SetOutput(output any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.output = output
}

func (n *NodeState) Output() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.output
}

func (n *NodeState) SetError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *NodeState) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// Snapshot captures n's state as an immutable value safe to hand to a
// caller after the evaluation halts or between progress events.
type Snapshot struct {
	Handle      string
	Status      Status
	Fingerprint string
	Output      any
	Error       error
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (n *NodeState) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Snapshot{
		Handle:      n.Handle,
		Status:      n.status,
		Fingerprint: n.fingerprint,
		Output:      n.output,
		Error:       n.err,
		StartedAt:   n.startedAt,
		FinishedAt:  n.finishedAt,
	}
}
