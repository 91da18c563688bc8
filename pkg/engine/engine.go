// Package engine runs chat graphs. The chat hub talks to it only through
// the Engine interface; LocalEngine is the in-process implementation.
package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/choraleia/chathub/pkg/workflow"
	einoModel "github.com/cloudwego/eino/components/model"
)

var (
	ErrCancelled          = errors.New("execution cancelled")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrUnsupportedNode    = errors.New("unsupported node type")
	ErrNoLanguageModel    = errors.New("no language model connected")
	ErrEmptyExecutionPlan = errors.New("execution data has no start node")
)

// Execution status values
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "canceled"
)

// ExecuteResult is returned once an execution has been accepted.
type ExecuteResult struct {
	ExecutionID               string
	WaitingForExternalTrigger bool
}

// RunResult is the outcome of a finished execution.
type RunResult struct {
	ExecutionID string
	Status      string
	Data        *workflow.RunExecutionData
	StartedAt   time.Time
	StoppedAt   time.Time
}

// Engine executes graphs. When sink is not nil, streaming nodes write
// newline-delimited JSON chunks to it while the execution runs.
type Engine interface {
	Execute(ctx context.Context, graph *workflow.Graph, seed *workflow.RunExecutionData, userID string, sink io.Writer) (*ExecuteResult, error)
	// AwaitResult blocks until the execution finishes. It fails with
	// ErrCancelled if the execution was cancelled.
	AwaitResult(ctx context.Context, executionID string) (*RunResult, error)
	Cancel(executionID string) error
}

// ModelFactory creates the chat model behind an LLM node.
type ModelFactory interface {
	CreateChatModel(ctx context.Context, provider, model, credentialID string) (einoModel.BaseChatModel, error)
}

// Output returns the string "output" field of the last run of nodeName,
// taken from the first main branch that has one.
func (r *RunResult) Output(nodeName string) (string, bool) {
	if r == nil || r.Data == nil {
		return "", false
	}
	runs := r.Data.ResultData.RunData[nodeName]
	if len(runs) == 0 {
		return "", false
	}
	for _, branch := range runs[len(runs)-1].Data[workflow.ConnectionMain] {
		if len(branch) == 0 {
			continue
		}
		if out, ok := branch[0].JSON["output"].(string); ok {
			return out, true
		}
	}
	return "", false
}
