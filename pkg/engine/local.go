package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/choraleia/chathub/pkg/memory"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/stream"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/choraleia/chathub/pkg/workflow"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// defaultMemoryWindow applies when a memory node sets no contextWindowLength.
const defaultMemoryWindow = 5

// LocalEngine interprets the node set used by chat graphs: chat trigger,
// memory manager, buffer window memory, LLM model nodes and the agent.
type LocalEngine struct {
	models      ModelFactory
	memory      memory.Store
	countTokens func(string) int
	logger      *slog.Logger

	mu         sync.Mutex
	executions map[string]*execution
}

type execution struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	result *RunResult
	err    error
}

// Option configures a LocalEngine.
type Option func(*LocalEngine)

// WithTokenCounter replaces the tiktoken based token counter.
func WithTokenCounter(fn func(string) int) Option {
	return func(e *LocalEngine) { e.countTokens = fn }
}

func NewLocalEngine(factory ModelFactory, store memory.Store, opts ...Option) *LocalEngine {
	e := &LocalEngine{
		models:      factory,
		memory:      store,
		countTokens: newTiktokenCounter(),
		logger:      utils.GetLogger(),
		executions:  make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute starts the graph in the background. The execution outlives ctx;
// use Cancel to stop it.
func (e *LocalEngine) Execute(ctx context.Context, graph *workflow.Graph, seed *workflow.RunExecutionData, userID string, sink io.Writer) (*ExecuteResult, error) {
	if graph == nil || seed == nil || len(seed.ExecutionData.NodeExecutionStack) == 0 {
		return nil, ErrEmptyExecutionPlan
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	exec := &execution{
		id:     uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.executions[exec.id] = exec
	e.mu.Unlock()

	e.logger.Debug("Starting execution", "executionId", exec.id, "workflow", graph.Name, "userId", userID)
	go e.run(runCtx, exec, graph, seed, sink)

	return &ExecuteResult{ExecutionID: exec.id}, nil
}

func (e *LocalEngine) AwaitResult(ctx context.Context, executionID string) (*RunResult, error) {
	exec := e.lookup(executionID)
	if exec == nil {
		return nil, ErrExecutionNotFound
	}

	select {
	case <-exec.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.mu.Lock()
	delete(e.executions, executionID)
	e.mu.Unlock()

	return exec.result, exec.err
}

func (e *LocalEngine) Cancel(executionID string) error {
	exec := e.lookup(executionID)
	if exec == nil {
		return ErrExecutionNotFound
	}
	e.logger.Info("Cancelling execution", "executionId", executionID)
	exec.cancel()
	return nil
}

func (e *LocalEngine) lookup(id string) *execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executions[id]
}

func (e *LocalEngine) run(ctx context.Context, exec *execution, graph *workflow.Graph, seed *workflow.RunExecutionData, sink io.Writer) {
	defer close(exec.done)
	defer exec.cancel()

	if seed.ResultData.RunData == nil {
		seed.ResultData.RunData = map[string][]workflow.TaskRun{}
	}
	r := &runner{
		engine:  e,
		graph:   graph,
		data:    seed,
		sink:    sink,
		outputs: make(map[string]map[string]any),
	}

	started := time.Now()
	err := r.run(ctx)
	result := &RunResult{
		ExecutionID: exec.id,
		Status:      StatusSuccess,
		Data:        seed,
		StartedAt:   started,
		StoppedAt:   time.Now(),
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled):
		result.Status = StatusCancelled
		exec.err = ErrCancelled
	default:
		result.Status = StatusError
		seed.ResultData.Error = err.Error()
		exec.err = err
		e.logger.Warn("Execution failed", "executionId", exec.id, "error", err)
	}
	exec.result = result
	e.logger.Debug("Execution finished", "executionId", exec.id, "status", result.Status,
		"duration", result.StoppedAt.Sub(started))
}

// ========== Runner ==========

type queued struct {
	node  workflow.Node
	items []workflow.Item
}

// runner holds the state of one execution.
type runner struct {
	engine  *LocalEngine
	graph   *workflow.Graph
	data    *workflow.RunExecutionData
	sink    io.Writer
	outputs map[string]map[string]any
}

func (r *runner) run(ctx context.Context) error {
	var queue []queued
	for _, ed := range r.data.ExecutionData.NodeExecutionStack {
		var items []workflow.Item
		if branches := ed.Data[workflow.ConnectionMain]; len(branches) > 0 {
			items = branches[0]
		}
		queue = append(queue, queued{node: ed.Node, items: items})
	}
	r.data.ExecutionData.NodeExecutionStack = nil

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		q := queue[0]
		queue = queue[1:]

		start := time.Now()
		out := q.items
		var err error
		if !q.node.Disabled {
			out, err = r.execNode(ctx, q.node, q.items)
		}

		taskRun := workflow.TaskRun{
			StartTime:       start.UnixMilli(),
			ExecutionTime:   time.Since(start).Milliseconds(),
			ExecutionStatus: StatusSuccess,
		}
		r.data.ResultData.LastNodeRun = q.node.Name
		if err != nil {
			taskRun.ExecutionStatus = StatusError
			taskRun.Error = err.Error()
			r.data.ResultData.RunData[q.node.Name] = append(r.data.ResultData.RunData[q.node.Name], taskRun)
			return errors.Wrapf(err, "node %q", q.node.Name)
		}
		taskRun.Data = workflow.TaskData{workflow.ConnectionMain: {out}}
		r.data.ResultData.RunData[q.node.Name] = append(r.data.ResultData.RunData[q.node.Name], taskRun)
		if len(out) > 0 {
			r.outputs[q.node.Name] = out[0].JSON
		}

		for _, name := range r.graph.Next(q.node.Name) {
			next, ok := r.graph.NodeByName(name)
			if !ok {
				continue
			}
			queue = append(queue, queued{node: next, items: out})
		}
	}
	return nil
}

func (r *runner) execNode(ctx context.Context, node workflow.Node, items []workflow.Item) ([]workflow.Item, error) {
	switch node.Type {
	case workflow.NodeTypeChatTrigger:
		return items, nil
	case workflow.NodeTypeMemoryManager:
		return r.memoryManager(ctx, node, items)
	case workflow.NodeTypeAgent:
		return r.agent(ctx, node, items)
	case workflow.NodeTypeMemoryBufferWindow,
		workflow.NodeTypeLmChatOpenAI,
		workflow.NodeTypeLmChatAnthropic,
		workflow.NodeTypeLmChatGoogle:
		// Sub-nodes are used through their ai_* connections.
		return items, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNode, node.Type)
	}
}

func (r *runner) lookup(nodeName, field string) (any, bool) {
	out, ok := r.outputs[nodeName]
	if !ok {
		return nil, false
	}
	v, ok := out[field]
	return v, ok
}

// memoryFor resolves the memory key and window of the memory node attached
// to target. An empty key means no memory is attached.
func (r *runner) memoryFor(target workflow.Node, items []workflow.Item) (string, int, error) {
	sources := r.graph.Sources(target.Name, workflow.ConnectionMemory)
	if len(sources) == 0 {
		return "", 0, nil
	}
	memNode, ok := r.graph.NodeByName(sources[0])
	if !ok {
		return "", 0, nil
	}

	window := defaultMemoryWindow
	if n, ok := memNode.IntParam("contextWindowLength"); ok && n > 0 {
		window = n
	}

	if idType, _ := memNode.StringParam("sessionIdType"); idType == "customKey" {
		raw, _ := memNode.StringParam("sessionKey")
		key, err := workflow.Evaluate(raw, r.lookup)
		if err != nil {
			return "", 0, errors.Wrap(err, "resolve memory session key")
		}
		return key, window, nil
	}

	if len(items) > 0 {
		if key, ok := items[0].JSON["sessionId"].(string); ok && key != "" {
			return key, window, nil
		}
	}
	return "", 0, errors.New("no session id found for memory")
}

func (r *runner) memoryManager(ctx context.Context, node workflow.Node, items []workflow.Item) ([]workflow.Item, error) {
	key, _, err := r.memoryFor(node, items)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, errors.New("memory manager has no memory connected")
	}
	store := r.engine.memory

	mode, _ := node.StringParam("mode")
	switch mode {
	case "insert":
		entries := messageValues(node)
		if insertMode, _ := node.StringParam("insertMode"); insertMode == "override" {
			err = store.Replace(ctx, key, entries)
		} else {
			err = store.Append(ctx, key, entries...)
		}
		if err != nil {
			return nil, err
		}
		return items, nil
	case "delete":
		deleteMode, _ := node.StringParam("deleteMode")
		switch deleteMode {
		case "", "all":
			err = store.Clear(ctx, key)
		case "lastN":
			n, _ := node.IntParam("lastMessagesCount")
			var entries []memory.Entry
			if entries, err = store.Messages(ctx, key); err == nil {
				if n > len(entries) {
					n = len(entries)
				}
				err = store.Replace(ctx, key, entries[:len(entries)-n])
			}
		default:
			return nil, fmt.Errorf("unsupported delete mode %q", deleteMode)
		}
		if err != nil {
			return nil, err
		}
		return items, nil
	case "", "load":
		entries, err := store.Messages(ctx, key)
		if err != nil {
			return nil, err
		}
		out := make([]workflow.Item, 0, len(entries))
		for _, e := range entries {
			out = append(out, workflow.Item{JSON: map[string]any{"type": e.Role, "message": e.Content}})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported memory manager mode %q", mode)
	}
}

func messageValues(node workflow.Node) []memory.Entry {
	raw, _ := node.Param("messages", "messageValues")
	list, _ := raw.([]any)
	entries := make([]memory.Entry, 0, len(list))
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["type"].(string)
		content, _ := m["message"].(string)
		entries = append(entries, memory.Entry{Role: role, Content: content})
	}
	return entries
}

// ========== Agent ==========

func (r *runner) agent(ctx context.Context, node workflow.Node, items []workflow.Item) ([]workflow.Item, error) {
	chatModel, err := r.languageModel(ctx, node)
	if err != nil {
		return nil, err
	}

	prompt, err := r.prompt(node, items)
	if err != nil {
		return nil, err
	}
	system, _ := node.StringParam("options", "systemMessage")
	streaming, _ := node.BoolParam("options", "enableStreaming")

	key, window, err := r.memoryFor(node, items)
	if err != nil {
		return nil, err
	}
	var history []memory.Entry
	if key != "" {
		entries, err := r.engine.memory.Messages(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "load memory")
		}
		history = memory.Window(entries, window)
		if maxTokens, ok := node.IntParam("options", "maxTokensFromMemory"); ok && maxTokens > 0 {
			budget := maxTokens - r.engine.countTokens(system) - r.engine.countTokens(prompt)
			history = trimToTokens(history, budget, r.engine.countTokens)
		}
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	for _, h := range history {
		switch h.Role {
		case workflow.RoleUser:
			msgs = append(msgs, schema.UserMessage(h.Content))
		case workflow.RoleAI:
			msgs = append(msgs, schema.AssistantMessage(h.Content, nil))
		default:
			msgs = append(msgs, schema.SystemMessage(h.Content))
		}
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	var output string
	if streaming && r.sink != nil {
		output, err = r.stream(ctx, node, chatModel, msgs)
	} else {
		var resp *schema.Message
		resp, err = chatModel.Generate(ctx, msgs)
		if err == nil {
			output = resp.Content
		}
	}
	if err != nil {
		return nil, err
	}

	if key != "" {
		err := r.engine.memory.Append(ctx, key,
			memory.Entry{Role: workflow.RoleUser, Content: prompt},
			memory.Entry{Role: workflow.RoleAI, Content: output},
		)
		if err != nil {
			r.engine.logger.Warn("Failed to save agent turn to memory", "node", node.Name, "error", err)
		}
	}

	return []workflow.Item{{JSON: map[string]any{"output": output}}}, nil
}

func (r *runner) languageModel(ctx context.Context, agent workflow.Node) (einoModel.BaseChatModel, error) {
	sources := r.graph.Sources(agent.Name, workflow.ConnectionLanguageModel)
	if len(sources) == 0 {
		return nil, ErrNoLanguageModel
	}
	modelNode, ok := r.graph.NodeByName(sources[0])
	if !ok {
		return nil, ErrNoLanguageModel
	}
	provider, ok := workflow.ProviderForNodeType(modelNode.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNode, modelNode.Type)
	}

	raw, ok := modelNode.StringParam("model", "value")
	if !ok {
		raw, _ = modelNode.StringParam("model")
	}
	modelName, err := workflow.Evaluate(raw, r.lookup)
	if err != nil {
		return nil, errors.Wrap(err, "resolve model name")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model node %q has no model set", modelNode.Name)
	}
	credentialID := modelNode.Credentials[models.ProviderCredentialTypes[provider]].ID

	chatModel, err := r.engine.models.CreateChatModel(ctx, provider, modelName, credentialID)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s model", provider)
	}
	return chatModel, nil
}

func (r *runner) prompt(node workflow.Node, items []workflow.Item) (string, error) {
	if promptType, _ := node.StringParam("promptType"); promptType == "define" {
		text, _ := node.StringParam("text")
		return workflow.Evaluate(text, r.lookup)
	}
	if len(items) > 0 {
		if s, ok := items[0].JSON["chatInput"].(string); ok {
			return s, nil
		}
	}
	return "", errors.New("no prompt found in input")
}

// stream forwards model output as begin/item/end chunks. Errors are
// reported as an error chunk; cancellation ends the stream silently.
func (r *runner) stream(ctx context.Context, node workflow.Node, chatModel einoModel.BaseChatModel, msgs []*schema.Message) (string, error) {
	r.writeChunk(node, stream.ChunkBegin, "")

	sr, err := chatModel.Stream(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.writeChunk(node, stream.ChunkError, err.Error())
		return "", err
	}
	defer sr.Close()

	var sb strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return sb.String(), ctx.Err()
			}
			r.writeChunk(node, stream.ChunkError, err.Error())
			return sb.String(), err
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		sb.WriteString(msg.Content)
		r.writeChunk(node, stream.ChunkItem, msg.Content)
	}

	if ctx.Err() != nil {
		return sb.String(), ctx.Err()
	}
	r.writeChunk(node, stream.ChunkEnd, "")
	return sb.String(), nil
}

func (r *runner) writeChunk(node workflow.Node, chunkType, content string) {
	line, err := json.Marshal(stream.StructuredChunk{
		Type:    chunkType,
		Content: content,
		Metadata: stream.Metadata{
			NodeID:    node.ID,
			NodeName:  node.Name,
			RunIndex:  len(r.data.ResultData.RunData[node.Name]),
			Timestamp: time.Now().UnixMilli(),
		},
	})
	if err != nil {
		return
	}
	if _, err := r.sink.Write(append(line, '\n')); err != nil {
		r.engine.logger.Debug("Failed to write chunk", "node", node.Name, "error", err)
	}
}
