// Package workflow holds the node-graph value types shared by the chat hub
// and the execution engine, and builds the graphs that run a chat turn.
package workflow

import (
	"encoding/json"

	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
)

// Connection types between nodes
const (
	ConnectionMain          = "main"
	ConnectionLanguageModel = "ai_languageModel"
	ConnectionMemory        = "ai_memory"
)

// Node is one step of a graph.
type Node struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	TypeVersion float64            `json:"typeVersion"`
	Position    [2]int             `json:"position"`
	Parameters  map[string]any     `json:"parameters"`
	Credentials models.Credentials `json:"credentials,omitempty"`
	WebhookID   string             `json:"webhookId,omitempty"`
	Disabled    bool               `json:"disabled,omitempty"`
}

// Target is the receiving end of a connection.
type Target struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// NodeConnections maps a connection type to the target lists of each output.
type NodeConnections map[string][][]Target

// Connections maps a source node name to its outgoing connections.
type Connections map[string]NodeConnections

// Graph is a workflow's nodes and connections.
type Graph struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name"`
	Nodes       []Node      `json:"nodes"`
	Connections Connections `json:"connections"`
}

// ========== Execution data ==========

// Item is one unit of data flowing between nodes.
type Item struct {
	JSON map[string]any `json:"json"`
}

// TaskData maps a connection type to the item lists of each branch.
type TaskData map[string][][]Item

// ExecuteData is a pending node invocation on the execution stack.
type ExecuteData struct {
	Node   Node     `json:"node"`
	Data   TaskData `json:"data"`
	Source any      `json:"source"`
}

// TaskRun records one run of a node.
type TaskRun struct {
	StartTime       int64    `json:"startTime"`
	ExecutionTime   int64    `json:"executionTime"`
	ExecutionStatus string   `json:"executionStatus"`
	Data            TaskData `json:"data,omitempty"`
	Error           string   `json:"error,omitempty"`
}

type ResultData struct {
	RunData     map[string][]TaskRun `json:"runData"`
	LastNodeRun string               `json:"lastNodeExecuted,omitempty"`
	Error       string               `json:"error,omitempty"`
}

type ExecutionState struct {
	ContextData            map[string]any `json:"contextData"`
	Metadata               map[string]any `json:"metadata"`
	NodeExecutionStack     []ExecuteData  `json:"nodeExecutionStack"`
	WaitingExecution       map[string]any `json:"waitingExecution"`
	WaitingExecutionSource map[string]any `json:"waitingExecutionSource"`
}

type ManualData struct {
	UserID string `json:"userId"`
}

// RunExecutionData seeds and records an execution.
type RunExecutionData struct {
	StartData     map[string]any `json:"startData"`
	ResultData    ResultData     `json:"resultData"`
	ExecutionData ExecutionState `json:"executionData"`
	ManualData    ManualData     `json:"manualData"`
}

// ========== Graph helpers ==========

// NodesOfType returns the nodes with the given type, in graph order.
func (g *Graph) NodesOfType(nodeType string) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Type == nodeType {
			out = append(out, n)
		}
	}
	return out
}

// NodeByName returns the node called name.
func (g *Graph) NodeByName(name string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// Sources lists the nodes that feed target through connType.
func (g *Graph) Sources(target, connType string) []string {
	var out []string
	for source, byType := range g.Connections {
		for _, targets := range byType[connType] {
			for _, t := range targets {
				if t.Node == target {
					out = append(out, source)
				}
			}
		}
	}
	return out
}

// Next lists the main-connection successors of source.
func (g *Graph) Next(source string) []string {
	var out []string
	for _, targets := range g.Connections[source][ConnectionMain] {
		for _, t := range targets {
			out = append(out, t.Node)
		}
	}
	return out
}

// ========== Persistence ==========

// ToEntity encodes the graph into a workflow row.
func (g *Graph) ToEntity(w *db.Workflow) error {
	nodes, err := json.Marshal(g.Nodes)
	if err != nil {
		return errors.Wrap(err, "encode nodes")
	}
	conns, err := json.Marshal(g.Connections)
	if err != nil {
		return errors.Wrap(err, "encode connections")
	}
	w.Name = g.Name
	w.Nodes = datatypes.JSON(nodes)
	w.Connections = datatypes.JSON(conns)
	return nil
}

// FromEntity decodes a workflow row.
func FromEntity(w *db.Workflow) (*Graph, error) {
	g := &Graph{ID: w.ID, Name: w.Name, Connections: Connections{}}
	if len(w.Nodes) > 0 {
		if err := json.Unmarshal(w.Nodes, &g.Nodes); err != nil {
			return nil, errors.Wrapf(err, "decode nodes of workflow %s", w.ID)
		}
	}
	if len(w.Connections) > 0 {
		if err := json.Unmarshal(w.Connections, &g.Connections); err != nil {
			return nil, errors.Wrapf(err, "decode connections of workflow %s", w.ID)
		}
	}
	return g, nil
}
