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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weftworks/weft/pkg/workflow"
)

func TestEchoExecutor(t *testing.T) {
	exec := echoExecutor(zaptest.NewLogger(t))

	result, err := exec(context.Background(), "writer", map[string]interface{}{
		"style":            "terse",
		workflow.ContextKey: map[string]interface{}{"hidden": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "writer", result["agent"])
	assert.Equal(t, "terse", result["style"])
	assert.NotContains(t, result, workflow.ContextKey)
}

func TestShellExecutor(t *testing.T) {
	exec := shellExecutor(`printf '%s' "$WEFT_AGENT"`, zaptest.NewLogger(t))

	result, err := exec(context.Background(), "sorter", nil)
	require.NoError(t, err)
	assert.Equal(t, "sorter", result["agent"])
	assert.Equal(t, "sorter", result["output"])
}

func TestShellExecutorPassesParams(t *testing.T) {
	exec := shellExecutor(`printf '%s' "$WEFT_PARAMS"`, zaptest.NewLogger(t))

	result, err := exec(context.Background(), "a", map[string]interface{}{
		"limit":            3,
		workflow.ContextKey: map[string]interface{}{"hidden": true},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"limit": 3}`, result["output"].(string))
}

func TestShellExecutorFailureFailsNode(t *testing.T) {
	exec := shellExecutor("exit 3", zaptest.NewLogger(t))

	_, err := exec(context.Background(), "a", nil)
	assert.Error(t, err)
}
