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
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weftworks/weft/pkg/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml>",
	Short: "Check a workflow definition without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  validateWorkflow,
}

func validateWorkflow(cmd *cobra.Command, args []string) error {
	engine := workflow.NewEngine(nil, zap.NewNop())

	wf, err := engine.LoadDefinition(args[0])
	if err != nil {
		return err
	}

	edges := 0
	for _, node := range wf.Nodes {
		edges += len(node.Children)
	}

	fmt.Printf("%s: OK (%d nodes, %d edges)\n", wf.Name, len(wf.Nodes), edges)
	return nil
}
