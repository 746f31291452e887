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
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftworks/weft/pkg/observability"
)

// Span constants for workflow operations
const (
	SpanWorkflowExecute = "workflow.execute"
	SpanWorkflowNode    = "workflow.node"
)

// Engine builds and executes workflows. Topology operations and runs are
// safe for concurrent use: Execute dispatches against a snapshot of the
// topology taken when the run starts, so nodes and edges added mid-run
// take effect on the next run. A single workflow should not be executed
// twice concurrently.
type Engine struct {
	mu sync.RWMutex

	// Workflow ID → workflow
	workflows map[string]*Workflow

	// Dependencies
	executor Executor
	tracer   observability.Tracer
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTracer attaches a tracer for span instrumentation.
func WithTracer(tracer observability.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// NewEngine creates a workflow engine. The executor may be nil, in which
// case every task node fails with a recorded error.
func NewEngine(executor Executor, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		workflows: make(map[string]*Workflow),
		executor:  executor,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CreateWorkflow registers an empty workflow.
func (e *Engine) CreateWorkflow(name, description string, metadata map[string]interface{}) *Workflow {
	wf := &Workflow{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Nodes:       make(map[string]*Node),
		Status:      StatusCreated,
		Metadata:    metadata,
		Created:     time.Now(),
	}

	e.mu.Lock()
	e.workflows[wf.ID] = wf
	e.mu.Unlock()

	e.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("name", name))

	return wf
}

// Workflow returns the workflow by ID, nil if unknown.
func (e *Engine) Workflow(id string) *Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workflows[id]
}

// AddNode appends a node to the workflow. The first node added becomes
// the root. Returns nil for unknown workflows.
func (e *Engine) AddNode(workflowID, name string, nodeType NodeType, agentName string, taskParams map[string]interface{}, condition string) *Node {
	e.mu.Lock()
	defer e.mu.Unlock()

	wf, exists := e.workflows[workflowID]
	if !exists {
		return nil
	}

	node := &Node{
		ID:         uuid.New().String(),
		Name:       name,
		Type:       nodeType,
		AgentName:  agentName,
		TaskParams: taskParams,
		Condition:  condition,
		Status:     NodePending,
	}
	wf.Nodes[node.ID] = node
	if wf.RootID == "" {
		wf.RootID = node.ID
	}

	e.logger.Debug("node added",
		zap.String("workflow_id", workflowID),
		zap.String("node_id", node.ID),
		zap.String("name", name),
		zap.String("type", nodeType.String()))

	return node
}

// ConnectNodes adds a parent→child edge. Duplicate edges are ignored;
// both nodes must exist.
func (e *Engine) ConnectNodes(workflowID, parentID, childID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	wf, exists := e.workflows[workflowID]
	if !exists {
		return false
	}
	parent, ok := wf.Nodes[parentID]
	if !ok {
		return false
	}
	if _, ok := wf.Nodes[childID]; !ok {
		return false
	}

	for _, existing := range parent.Children {
		if existing == childID {
			return true
		}
	}
	parent.Children = append(parent.Children, childID)
	return true
}

// PauseWorkflow moves a running workflow to paused. In-flight executor
// calls are not interrupted.
func (e *Engine) PauseWorkflow(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	wf, exists := e.workflows[id]
	if !exists || wf.Status != StatusRunning {
		return false
	}
	wf.Status = StatusPaused

	e.logger.Info("workflow paused", zap.String("workflow_id", id))
	return true
}

// CancelWorkflow cancels from any non-terminal status. In-flight executor
// calls are not interrupted.
func (e *Engine) CancelWorkflow(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	wf, exists := e.workflows[id]
	if !exists || wf.Status.terminal() {
		return false
	}
	wf.Status = StatusCancelled

	e.logger.Info("workflow cancelled", zap.String("workflow_id", id))
	return true
}

// run carries the mutable state of one Execute call plus a topology
// snapshot, so dispatch never reads the workflow's maps while AddNode or
// ConnectNodes mutate them. The mutex guards context, node results, and
// the failure list during parallel fan-out.
type run struct {
	mu      sync.Mutex
	context map[string]interface{}
	results map[string]interface{}
	failed  []string

	// Topology frozen at the start of the run.
	nodes    map[string]*Node
	children map[string][]string
}

// snapshot copies the current context for handoff into an executor call.
func (r *run) snapshot() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(map[string]interface{}, len(r.context))
	for k, v := range r.context {
		snap[k] = v
	}
	return snap
}

// fail records the node as failed exactly once.
func (r *run) fail(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.failed {
		if id == nodeID {
			return
		}
	}
	r.failed = append(r.failed, nodeID)
}

func (r *run) hasFailed(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.failed {
		if id == nodeID {
			return true
		}
	}
	return false
}

// Execute runs the workflow from its root. The initial context seeds the
// shared context map; each completed task node writes its result under its
// node ID. Returns nil for unknown workflows and a Result with
// Success=false for an empty workflow.
//
// The topology is snapshotted when the run starts: nodes and edges added
// concurrently are not dispatched by this run.
//
// Parallel children race on context writes; a parallel task must not read
// a sibling's result from the context.
func (e *Engine) Execute(ctx context.Context, workflowID string, initialContext map[string]interface{}) *Result {
	var span *observability.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartSpan(ctx, SpanWorkflowExecute)
		defer e.tracer.EndSpan(span)
		span.SetAttribute("workflow_id", workflowID)
	}

	e.mu.Lock()
	wf, exists := e.workflows[workflowID]
	if !exists {
		e.mu.Unlock()
		return nil
	}
	wf.Status = StatusRunning
	rootID := wf.RootID

	r := &run{
		context:  make(map[string]interface{}),
		results:  make(map[string]interface{}),
		nodes:    make(map[string]*Node, len(wf.Nodes)),
		children: make(map[string][]string, len(wf.Nodes)),
	}
	for id, node := range wf.Nodes {
		r.nodes[id] = node
		r.children[id] = append([]string(nil), node.Children...)
	}
	e.mu.Unlock()

	start := time.Now()

	for k, v := range initialContext {
		r.context[k] = v
	}

	e.logger.Info("workflow started",
		zap.String("workflow_id", workflowID),
		zap.String("name", wf.Name))

	if rootID != "" {
		e.dispatch(ctx, r.nodes[rootID], r)
	}

	success := rootID != "" && len(r.failed) == 0

	e.mu.Lock()
	// Pause or cancel during the run wins over the computed terminal status.
	if wf.Status == StatusRunning {
		if success {
			wf.Status = StatusCompleted
		} else {
			wf.Status = StatusFailed
		}
	}
	e.mu.Unlock()

	result := &Result{
		WorkflowID:    workflowID,
		Success:       success,
		NodeResults:   r.results,
		TotalDuration: time.Since(start),
		FailedNodes:   r.failed,
	}

	if span != nil {
		span.SetAttribute("success", success)
		span.SetAttribute("failed_nodes", len(r.failed))
	}

	e.logger.Info("workflow finished",
		zap.String("workflow_id", workflowID),
		zap.Bool("success", success),
		zap.Duration("duration", result.TotalDuration),
		zap.Strings("failed_nodes", r.failed))

	return result
}

// dispatch executes one node according to its type.
func (e *Engine) dispatch(ctx context.Context, node *Node, r *run) {
	if node == nil {
		return
	}

	var span *observability.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartSpan(ctx, SpanWorkflowNode)
		defer e.tracer.EndSpan(span)
		span.SetAttribute("node_id", node.ID)
		span.SetAttribute("node_type", node.Type.String())
	}

	r.mu.Lock()
	node.Status = NodeRunning
	r.mu.Unlock()

	switch node.Type {
	case NodeTask:
		e.runTask(ctx, node, r)

	case NodeSequence:
		e.runSequence(ctx, node, r)

	case NodeParallel:
		e.runParallel(ctx, node, r)

	case NodeConditional:
		e.runConditional(ctx, node, r)

	case NodeMerge:
		e.runMerge(ctx, node, r)

	default:
		e.failNode(node, r, "unsupported node type")
	}
}

// runTask invokes the executor with the node's params plus a context
// snapshot under ContextKey.
func (e *Engine) runTask(ctx context.Context, node *Node, r *run) {
	if e.executor == nil {
		e.failNode(node, r, "no executor configured")
		return
	}
	if node.AgentName == "" {
		e.failNode(node, r, "task node has no agent")
		return
	}

	params := make(map[string]interface{}, len(node.TaskParams)+1)
	for k, v := range node.TaskParams {
		params[k] = v
	}
	params[ContextKey] = r.snapshot()

	result, err := e.executor(ctx, node.AgentName, params)
	if err != nil {
		e.logger.Warn("task failed",
			zap.String("node_id", node.ID),
			zap.String("agent", node.AgentName),
			zap.Error(err))
		r.mu.Lock()
		node.Status = NodeFailed
		node.Result = map[string]interface{}{"error": err.Error()}
		r.results[node.ID] = node.Result
		r.mu.Unlock()
		r.fail(node.ID)
		return
	}

	r.mu.Lock()
	node.Status = NodeCompleted
	node.Result = result
	r.results[node.ID] = result
	r.context[node.ID] = result
	r.mu.Unlock()
}

// runSequence dispatches children in declared order and stops at the
// first failure.
func (e *Engine) runSequence(ctx context.Context, node *Node, r *run) {
	for _, childID := range r.children[node.ID] {
		e.dispatch(ctx, r.nodes[childID], r)
		if r.hasFailed(childID) {
			e.failNode(node, r, "")
			return
		}
	}
	e.completeNode(node, r)
}

// runParallel dispatches all children concurrently and waits for all of
// them before judging the node.
func (e *Engine) runParallel(ctx context.Context, node *Node, r *run) {
	var wg sync.WaitGroup
	for _, childID := range r.children[node.ID] {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			e.dispatch(ctx, r.nodes[id], r)
		}(childID)
	}
	wg.Wait()

	for _, childID := range r.children[node.ID] {
		if r.hasFailed(childID) {
			e.failNode(node, r, "")
			return
		}
	}
	e.completeNode(node, r)
}

// runConditional evaluates the node's condition against the context.
// Child 0 is the true branch, child 1 the false branch; a missing branch
// skips the node.
func (e *Engine) runConditional(ctx context.Context, node *Node, r *run) {
	r.mu.Lock()
	met := evaluateCondition(node.Condition, r.context)
	r.mu.Unlock()

	children := r.children[node.ID]

	var branchID string
	switch {
	case met && len(children) >= 1:
		branchID = children[0]
	case !met && len(children) >= 2:
		branchID = children[1]
	default:
		r.mu.Lock()
		node.Status = NodeSkipped
		r.mu.Unlock()
		return
	}

	e.dispatch(ctx, r.nodes[branchID], r)
	if r.hasFailed(branchID) {
		e.failNode(node, r, "")
		return
	}
	e.completeNode(node, r)
}

// runMerge dispatches every child in declared order. Unlike a sequence it
// never short-circuits: all children run and all failures are collected.
func (e *Engine) runMerge(ctx context.Context, node *Node, r *run) {
	anyFailed := false
	for _, childID := range r.children[node.ID] {
		e.dispatch(ctx, r.nodes[childID], r)
		if r.hasFailed(childID) {
			anyFailed = true
		}
	}

	if anyFailed {
		e.failNode(node, r, "")
		return
	}
	e.completeNode(node, r)
}

func (e *Engine) completeNode(node *Node, r *run) {
	r.mu.Lock()
	node.Status = NodeCompleted
	r.mu.Unlock()
}

// failNode marks the node failed. A non-empty reason is recorded as the
// node's result, the way executor errors are.
func (e *Engine) failNode(node *Node, r *run, reason string) {
	r.mu.Lock()
	node.Status = NodeFailed
	if reason != "" {
		node.Result = map[string]interface{}{"error": reason}
		r.results[node.ID] = node.Result
	}
	r.mu.Unlock()
	r.fail(node.ID)
}
