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
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// APIVersion accepted at the top of workflow definition files.
const APIVersion = "weft/v1"

// Definition is the top-level structure of a workflow YAML file.
type Definition struct {
	APIVersion string             `yaml:"apiVersion"`
	Kind       string             `yaml:"kind"`
	Metadata   DefinitionMetadata `yaml:"metadata"`
	Spec       DefinitionSpec     `yaml:"spec"`
}

// DefinitionMetadata names and describes the workflow.
type DefinitionMetadata struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Labels      map[string]interface{} `yaml:"labels,omitempty"`
}

// DefinitionSpec declares the nodes and edges of the DAG. The first node
// listed becomes the root.
type DefinitionSpec struct {
	Nodes []NodeDefinition `yaml:"nodes"`
	Edges []EdgeDefinition `yaml:"edges,omitempty"`
}

// NodeDefinition describes one node. The id is file-local; edges refer to
// it and it never leaks into the built workflow.
type NodeDefinition struct {
	ID        string                 `yaml:"id"`
	Name      string                 `yaml:"name,omitempty"`
	Type      string                 `yaml:"type,omitempty"` // defaults to task
	Agent     string                 `yaml:"agent,omitempty"`
	Params    map[string]interface{} `yaml:"params,omitempty"`
	Condition string                 `yaml:"condition,omitempty"`
}

// EdgeDefinition is one parent→child edge.
type EdgeDefinition struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// LoadDefinition reads a workflow YAML file and builds it on the engine.
func (e *Engine) LoadDefinition(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return e.ParseDefinition(data)
}

// ParseDefinition builds a workflow from YAML bytes through the engine's
// topology operations, so the usual invariants (first node is root,
// duplicate edges ignored) hold for declarative workflows too.
func (e *Engine) ParseDefinition(data []byte) (*Workflow, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}

	if def.APIVersion != APIVersion {
		return nil, fmt.Errorf("unsupported apiVersion: %s (expected %s)", def.APIVersion, APIVersion)
	}
	if def.Kind != "Workflow" {
		return nil, fmt.Errorf("unsupported kind: %s (expected Workflow)", def.Kind)
	}
	if len(def.Spec.Nodes) == 0 {
		return nil, fmt.Errorf("workflow %q has no nodes", def.Metadata.Name)
	}

	wf := e.CreateWorkflow(def.Metadata.Name, def.Metadata.Description, def.Metadata.Labels)

	// File-local node id → engine node id, for edge wiring.
	ids := make(map[string]string, len(def.Spec.Nodes))
	for _, nd := range def.Spec.Nodes {
		if nd.ID == "" {
			return nil, fmt.Errorf("workflow %q: node without id", def.Metadata.Name)
		}
		if _, dup := ids[nd.ID]; dup {
			return nil, fmt.Errorf("workflow %q: duplicate node id %q", def.Metadata.Name, nd.ID)
		}

		nodeType, err := parseNodeType(nd.Type)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", nd.ID, err)
		}

		name := nd.Name
		if name == "" {
			name = nd.ID
		}
		node := e.AddNode(wf.ID, name, nodeType, nd.Agent, nd.Params, nd.Condition)
		ids[nd.ID] = node.ID
	}

	for _, edge := range def.Spec.Edges {
		from, ok := ids[edge.From]
		if !ok {
			return nil, fmt.Errorf("edge references unknown node %q", edge.From)
		}
		to, ok := ids[edge.To]
		if !ok {
			return nil, fmt.Errorf("edge references unknown node %q", edge.To)
		}
		e.ConnectNodes(wf.ID, from, to)
	}

	return wf, nil
}

func parseNodeType(s string) (NodeType, error) {
	switch s {
	case "", "task":
		return NodeTask, nil
	case "sequence":
		return NodeSequence, nil
	case "parallel":
		return NodeParallel, nil
	case "conditional":
		return NodeConditional, nil
	case "merge":
		return NodeMerge, nil
	default:
		return NodeTask, fmt.Errorf("unknown node type %q", s)
	}
}
