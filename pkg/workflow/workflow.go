// Copyright 2026 Weftworks
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package workflow executes DAGs of task, sequence, parallel, conditional,
// and merge nodes against a caller-supplied Executor.
package workflow

import (
	"context"
	"time"
)

// ContextKey is the reserved task-params key carrying a snapshot of the
// workflow context into each executor call.
const ContextKey = "_context"

// Executor runs one agent task. The engine never executes agent logic
// itself; it hands the agent name and parameters to this callback and
// records the returned map. A non-nil error fails the node.
type Executor func(ctx context.Context, agentName string, params map[string]interface{}) (map[string]interface{}, error)

// NodeType selects a node's dispatch semantics.
type NodeType int

const (
	// NodeTask invokes the executor for a single agent.
	NodeTask NodeType = iota
	// NodeSequence runs children in order, stopping at the first failure.
	NodeSequence
	// NodeParallel runs all children concurrently and waits for all.
	NodeParallel
	// NodeConditional picks the first or second child by a context predicate.
	NodeConditional
	// NodeMerge runs children in order but never short-circuits.
	NodeMerge
)

func (t NodeType) String() string {
	switch t {
	case NodeTask:
		return "task"
	case NodeSequence:
		return "sequence"
	case NodeParallel:
		return "parallel"
	case NodeConditional:
		return "conditional"
	case NodeMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// NodeStatus is a node's execution state within one run.
type NodeStatus int

const (
	NodePending NodeStatus = iota
	NodeRunning
	NodeCompleted
	NodeFailed
	NodeSkipped
)

func (s NodeStatus) String() string {
	switch s {
	case NodePending:
		return "pending"
	case NodeRunning:
		return "running"
	case NodeCompleted:
		return "completed"
	case NodeFailed:
		return "failed"
	case NodeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Node is one vertex of the DAG. Children lists define the edges; the
// engine does not validate acyclicity.
type Node struct {
	ID         string
	Name       string
	Type       NodeType
	AgentName  string
	TaskParams map[string]interface{}
	Condition  string
	Children   []string
	Status     NodeStatus
	Result     map[string]interface{}
}

// Status is a workflow's lifecycle state.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// terminal reports whether the status admits no further transitions.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Workflow is a named DAG. The first node added becomes the root and the
// root is immutable thereafter.
type Workflow struct {
	ID          string
	Name        string
	Description string
	Nodes       map[string]*Node
	RootID      string
	Status      Status
	Metadata    map[string]interface{}
	Created     time.Time
}

// Result is the outcome of one Execute call.
type Result struct {
	WorkflowID    string
	Success       bool
	NodeResults   map[string]interface{}
	TotalDuration time.Duration
	FailedNodes   []string
}
