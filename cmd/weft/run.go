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
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weftworks/weft/pkg/config"
	"github.com/weftworks/weft/pkg/workflow"
)

var execCommand string

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a workflow definition",
	Long: `Run executes a workflow YAML file with the built-in echo executor.
Each task node reports its agent and parameters.

With --exec-command, every task node instead runs the given shell command
with WEFT_AGENT and WEFT_PARAMS (JSON) in its environment; stdout becomes
the node result. Wire a real executor by embedding the engine in your own
program.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVar(&execCommand, "exec-command", "", "shell command to run per task node (receives WEFT_AGENT and WEFT_PARAMS)")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	executor := echoExecutor(logger)
	if execCommand != "" {
		executor = shellExecutor(execCommand, logger)
	}
	engine := workflow.NewEngine(executor, logger)

	wf, err := engine.LoadDefinition(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if cfg.Workflow.DefaultTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Workflow.DefaultTimeoutSeconds)*time.Second)
		defer cancel()
	}

	result := engine.Execute(ctx, wf.ID, nil)

	fmt.Printf("Workflow:  %s\n", wf.Name)
	fmt.Printf("Duration:  %s\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Success:   %v\n", result.Success)

	nodeIDs := make([]string, 0, len(result.NodeResults))
	for id := range result.NodeResults {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)
	for _, id := range nodeIDs {
		name := id
		if node, ok := wf.Nodes[id]; ok {
			name = node.Name
		}
		fmt.Printf("  %s: %v\n", name, result.NodeResults[id])
	}

	if !result.Success {
		return fmt.Errorf("workflow failed (%d failed nodes)", len(result.FailedNodes))
	}
	return nil
}

// echoExecutor returns a stand-in executor that logs each dispatch and
// echoes the agent name and parameters back as the task result.
func echoExecutor(logger *zap.Logger) workflow.Executor {
	return func(_ context.Context, agentName string, params map[string]interface{}) (map[string]interface{}, error) {
		logger.Info("task dispatched", zap.String("agent", agentName))

		result := map[string]interface{}{"agent": agentName}
		for k, v := range params {
			if k == workflow.ContextKey {
				continue
			}
			result[k] = v
		}
		return result, nil
	}
}

// shellExecutor returns an executor that runs the given command through
// /bin/sh for every task node. The agent name and the task params (as
// JSON, minus the context snapshot) are passed via WEFT_AGENT and
// WEFT_PARAMS; trimmed stdout becomes the node result. A non-zero exit
// fails the node.
func shellExecutor(command string, logger *zap.Logger) workflow.Executor {
	return func(ctx context.Context, agentName string, params map[string]interface{}) (map[string]interface{}, error) {
		payload := make(map[string]interface{}, len(params))
		for k, v := range params {
			if k == workflow.ContextKey {
				continue
			}
			payload[k] = v
		}
		paramsJSON, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode task params: %w", err)
		}

		logger.Info("task command dispatched",
			zap.String("agent", agentName),
			zap.String("command", command))

		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
		cmd.Env = append(os.Environ(),
			"WEFT_AGENT="+agentName,
			"WEFT_PARAMS="+string(paramsJSON),
		)
		out, err := cmd.Output()
		if err != nil {
			return nil, fmt.Errorf("task command failed: %w", err)
		}

		return map[string]interface{}{
			"agent":  agentName,
			"output": strings.TrimSpace(string(out)),
		}, nil
	}
}
