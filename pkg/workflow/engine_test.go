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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// echoExecutor returns the agent name and its params, failing for agents
// named "bad".
func echoExecutor(_ context.Context, agentName string, params map[string]interface{}) (map[string]interface{}, error) {
	if agentName == "bad" {
		return nil, errors.New("agent exploded")
	}
	return map[string]interface{}{"agent": agentName}, nil
}

func TestSingleTask(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))
	ctx := context.Background()

	wf := e.CreateWorkflow("solo", "", nil)
	task := e.AddNode(wf.ID, "t1", NodeTask, "good", map[string]interface{}{"k": "v"}, "")
	require.NotNil(t, task)
	assert.Equal(t, task.ID, wf.RootID)

	result := e.Execute(ctx, wf.ID, nil)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"agent": "good"}, result.NodeResults[task.ID])
	assert.Equal(t, NodeCompleted, task.Status)
	assert.Equal(t, StatusCompleted, wf.Status)
	assert.Empty(t, result.FailedNodes)
}

func TestTaskReceivesContextSnapshot(t *testing.T) {
	var seen map[string]interface{}
	exec := func(_ context.Context, _ string, params map[string]interface{}) (map[string]interface{}, error) {
		seen = params
		return map[string]interface{}{}, nil
	}
	e := NewEngine(exec, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("ctx", "", nil)
	e.AddNode(wf.ID, "t1", NodeTask, "a", map[string]interface{}{"own": 1}, "")

	result := e.Execute(context.Background(), wf.ID, map[string]interface{}{"seed": "yes"})
	require.True(t, result.Success)

	require.NotNil(t, seen)
	assert.Equal(t, 1, seen["own"])
	snap, ok := seen[ContextKey].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "yes", snap["seed"])
}

func TestSequenceShortCircuit(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))
	ctx := context.Background()

	wf := e.CreateWorkflow("seq", "", nil)
	root := e.AddNode(wf.ID, "root", NodeSequence, "", nil, "")
	t1 := e.AddNode(wf.ID, "t1", NodeTask, "bad", nil, "")
	t2 := e.AddNode(wf.ID, "t2", NodeTask, "good", nil, "")
	require.True(t, e.ConnectNodes(wf.ID, root.ID, t1.ID))
	require.True(t, e.ConnectNodes(wf.ID, root.ID, t2.ID))

	result := e.Execute(ctx, wf.ID, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.FailedNodes, t1.ID)
	assert.Contains(t, result.FailedNodes, root.ID)

	// The failing child stops the sequence before t2 runs.
	assert.NotContains(t, result.NodeResults, t2.ID)
	assert.Equal(t, NodePending, t2.Status)
	assert.Equal(t, map[string]interface{}{"error": "agent exploded"}, result.NodeResults[t1.ID])
}

func TestSequenceChainsContext(t *testing.T) {
	var fromFirst interface{}
	var firstID string
	exec := func(_ context.Context, agentName string, params map[string]interface{}) (map[string]interface{}, error) {
		if agentName == "second" {
			snap := params[ContextKey].(map[string]interface{})
			fromFirst = snap[firstID]
		}
		return map[string]interface{}{"by": agentName}, nil
	}
	e := NewEngine(exec, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("chain", "", nil)
	root := e.AddNode(wf.ID, "root", NodeSequence, "", nil, "")
	t1 := e.AddNode(wf.ID, "t1", NodeTask, "first", nil, "")
	t2 := e.AddNode(wf.ID, "t2", NodeTask, "second", nil, "")
	firstID = t1.ID
	e.ConnectNodes(wf.ID, root.ID, t1.ID)
	e.ConnectNodes(wf.ID, root.ID, t2.ID)

	result := e.Execute(context.Background(), wf.ID, nil)
	require.True(t, result.Success)
	assert.Equal(t, map[string]interface{}{"by": "first"}, fromFirst)
}

func TestParallelRunsAllChildren(t *testing.T) {
	var started sync.WaitGroup
	started.Add(3)
	release := make(chan struct{})
	var count atomic.Int32

	exec := func(_ context.Context, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
		count.Add(1)
		started.Done()
		<-release // all three must be in flight at once
		return map[string]interface{}{}, nil
	}
	e := NewEngine(exec, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("par", "", nil)
	root := e.AddNode(wf.ID, "root", NodeParallel, "", nil, "")
	for _, name := range []string{"a", "b", "c"} {
		n := e.AddNode(wf.ID, name, NodeTask, name, nil, "")
		e.ConnectNodes(wf.ID, root.ID, n.ID)
	}

	go func() {
		started.Wait()
		close(release)
	}()

	result := e.Execute(context.Background(), wf.ID, nil)
	assert.True(t, result.Success)
	assert.Equal(t, int32(3), count.Load())
}

func TestParallelFailsWhenAnyChildFails(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("par", "", nil)
	root := e.AddNode(wf.ID, "root", NodeParallel, "", nil, "")
	good := e.AddNode(wf.ID, "good", NodeTask, "good", nil, "")
	bad := e.AddNode(wf.ID, "bad", NodeTask, "bad", nil, "")
	e.ConnectNodes(wf.ID, root.ID, good.ID)
	e.ConnectNodes(wf.ID, root.ID, bad.ID)

	result := e.Execute(context.Background(), wf.ID, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.FailedNodes, bad.ID)
	assert.Contains(t, result.FailedNodes, root.ID)
	// The healthy sibling still ran to completion.
	assert.Contains(t, result.NodeResults, good.ID)
}

func TestConditionalTrueBranch(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("cond", "", nil)
	root := e.AddNode(wf.ID, "root", NodeConditional, "", nil, "status == ok")
	yes := e.AddNode(wf.ID, "yes", NodeTask, "yes-agent", nil, "")
	no := e.AddNode(wf.ID, "no", NodeTask, "no-agent", nil, "")
	e.ConnectNodes(wf.ID, root.ID, yes.ID)
	e.ConnectNodes(wf.ID, root.ID, no.ID)

	result := e.Execute(context.Background(), wf.ID, map[string]interface{}{"status": "ok"})
	require.True(t, result.Success)
	assert.Contains(t, result.NodeResults, yes.ID)
	assert.NotContains(t, result.NodeResults, no.ID)
}

func TestConditionalFalseBranch(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("cond", "", nil)
	root := e.AddNode(wf.ID, "root", NodeConditional, "", nil, "status == ok")
	yes := e.AddNode(wf.ID, "yes", NodeTask, "yes-agent", nil, "")
	no := e.AddNode(wf.ID, "no", NodeTask, "no-agent", nil, "")
	e.ConnectNodes(wf.ID, root.ID, yes.ID)
	e.ConnectNodes(wf.ID, root.ID, no.ID)

	result := e.Execute(context.Background(), wf.ID, map[string]interface{}{"status": "broken"})
	require.True(t, result.Success)
	assert.Contains(t, result.NodeResults, no.ID)
	assert.NotContains(t, result.NodeResults, yes.ID)
}

func TestConditionalMissingBranchSkips(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("cond", "", nil)
	root := e.AddNode(wf.ID, "root", NodeConditional, "", nil, "status == ok")
	yes := e.AddNode(wf.ID, "yes", NodeTask, "yes-agent", nil, "")
	e.ConnectNodes(wf.ID, root.ID, yes.ID)

	// Condition is false but there is no false branch.
	result := e.Execute(context.Background(), wf.ID, nil)
	assert.True(t, result.Success)
	assert.Equal(t, NodeSkipped, root.Status)
	assert.Empty(t, result.NodeResults)
}

func TestMergeRunsAllChildrenDespiteFailures(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("merge", "", nil)
	root := e.AddNode(wf.ID, "root", NodeMerge, "", nil, "")
	bad1 := e.AddNode(wf.ID, "bad1", NodeTask, "bad", nil, "")
	good := e.AddNode(wf.ID, "good", NodeTask, "good", nil, "")
	bad2 := e.AddNode(wf.ID, "bad2", NodeTask, "bad", nil, "")
	e.ConnectNodes(wf.ID, root.ID, bad1.ID)
	e.ConnectNodes(wf.ID, root.ID, good.ID)
	e.ConnectNodes(wf.ID, root.ID, bad2.ID)

	result := e.Execute(context.Background(), wf.ID, nil)
	assert.False(t, result.Success)

	// Every child ran; both failures were collected.
	assert.Contains(t, result.NodeResults, good.ID)
	assert.Contains(t, result.FailedNodes, bad1.ID)
	assert.Contains(t, result.FailedNodes, bad2.ID)
	assert.Contains(t, result.FailedNodes, root.ID)
}

func TestTaskWithoutAgentFails(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("bad", "", nil)
	task := e.AddNode(wf.ID, "t", NodeTask, "", nil, "")

	result := e.Execute(context.Background(), wf.ID, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.FailedNodes, task.ID)
}

func TestNoExecutorFailsTasks(t *testing.T) {
	e := NewEngine(nil, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("no-exec", "", nil)
	task := e.AddNode(wf.ID, "t", NodeTask, "a", nil, "")

	result := e.Execute(context.Background(), wf.ID, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.FailedNodes, task.ID)
}

func TestEmptyWorkflowFails(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("empty", "", nil)
	result := e.Execute(context.Background(), wf.ID, nil)
	require.NotNil(t, result)
	assert.False(t, result.Success)
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))
	assert.Nil(t, e.Execute(context.Background(), "no-such-workflow", nil))
}

func TestConnectNodes(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("edges", "", nil)
	a := e.AddNode(wf.ID, "a", NodeSequence, "", nil, "")
	b := e.AddNode(wf.ID, "b", NodeTask, "x", nil, "")

	require.True(t, e.ConnectNodes(wf.ID, a.ID, b.ID))
	assert.True(t, e.ConnectNodes(wf.ID, a.ID, b.ID)) // duplicate ignored
	assert.Len(t, a.Children, 1)

	assert.False(t, e.ConnectNodes(wf.ID, a.ID, "ghost"))
	assert.False(t, e.ConnectNodes(wf.ID, "ghost", b.ID))
	assert.False(t, e.ConnectNodes("no-such-workflow", a.ID, b.ID))
}

func TestPauseAndCancel(t *testing.T) {
	e := NewEngine(echoExecutor, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("ctl", "", nil)

	// Pause only applies to running workflows.
	assert.False(t, e.PauseWorkflow(wf.ID))

	assert.True(t, e.CancelWorkflow(wf.ID))
	assert.Equal(t, StatusCancelled, wf.Status)

	// Cancelled is terminal.
	assert.False(t, e.CancelWorkflow(wf.ID))
	assert.False(t, e.PauseWorkflow(wf.ID))
}

func TestCancelDuringRunWinsOverCompletion(t *testing.T) {
	e := NewEngine(func(_ context.Context, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
		time.Sleep(50 * time.Millisecond)
		return map[string]interface{}{}, nil
	}, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("slow", "", nil)
	e.AddNode(wf.ID, "t", NodeTask, "a", nil, "")

	done := make(chan *Result, 1)
	go func() {
		done <- e.Execute(context.Background(), wf.ID, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, e.CancelWorkflow(wf.ID))

	result := <-done
	assert.True(t, result.Success) // the in-flight task still finished
	assert.Equal(t, StatusCancelled, wf.Status)
}

func TestTopologyMutationDuringRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	exec := func(_ context.Context, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
		once.Do(func() { close(started) })
		<-release
		return map[string]interface{}{}, nil
	}
	e := NewEngine(exec, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("growing", "", nil)
	root := e.AddNode(wf.ID, "root", NodeParallel, "", nil, "")
	const tasks = 10
	for i := 0; i < tasks; i++ {
		n := e.AddNode(wf.ID, "t", NodeTask, "a", nil, "")
		e.ConnectNodes(wf.ID, root.ID, n.ID)
	}

	done := make(chan *Result, 1)
	go func() {
		done <- e.Execute(context.Background(), wf.ID, nil)
	}()

	// Grow the topology while the run is in flight. The run dispatches
	// against its snapshot, so the new nodes belong to the next run.
	<-started
	for i := 0; i < 50; i++ {
		n := e.AddNode(wf.ID, "late", NodeTask, "a", nil, "")
		require.NotNil(t, n)
		require.True(t, e.ConnectNodes(wf.ID, root.ID, n.ID))
	}
	close(release)

	result := <-done
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Len(t, result.NodeResults, tasks)
	assert.Len(t, root.Children, tasks+50)
}

func TestTotalDurationMeasured(t *testing.T) {
	e := NewEngine(func(_ context.Context, _ string, _ map[string]interface{}) (map[string]interface{}, error) {
		time.Sleep(20 * time.Millisecond)
		return map[string]interface{}{}, nil
	}, zaptest.NewLogger(t))

	wf := e.CreateWorkflow("timed", "", nil)
	e.AddNode(wf.ID, "t", NodeTask, "a", nil, "")

	result := e.Execute(context.Background(), wf.ID, nil)
	assert.GreaterOrEqual(t, result.TotalDuration, 20*time.Millisecond)
}

func TestEvaluateCondition(t *testing.T) {
	ctx := map[string]interface{}{
		"status": "ok",
		"count":  3,
		"zero":   0,
		"flag":   true,
		"off":    false,
		"empty":  "",
	}

	assert.True(t, evaluateCondition("", ctx))
	assert.True(t, evaluateCondition("status == ok", ctx))
	assert.True(t, evaluateCondition("  status ==  ok ", ctx))
	assert.False(t, evaluateCondition("status == bad", ctx))
	assert.True(t, evaluateCondition("count == 3", ctx))
	assert.False(t, evaluateCondition("missing == x", ctx))

	assert.True(t, evaluateCondition("flag", ctx))
	assert.True(t, evaluateCondition("count", ctx))
	assert.False(t, evaluateCondition("off", ctx))
	assert.False(t, evaluateCondition("zero", ctx))
	assert.False(t, evaluateCondition("empty", ctx))
	assert.False(t, evaluateCondition("missing", ctx))
}
