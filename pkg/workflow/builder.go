package workflow

import (
	"errors"
	"fmt"

	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/google/uuid"
)

// ErrNoModelNode is returned when a model node is requested for a provider
// that answers with its own graph.
var ErrNoModelNode = errors.New("custom agent workflows do not require a model node")

// ChatParams describes one chat turn.
type ChatParams struct {
	UserID        string
	SessionID     string
	History       []*models.ChatHubMessage
	HumanMessage  string
	Credentials   models.Credentials
	Model         models.ConversationModel
	SystemMessage string
	// ContextWindowLength is the number of exchanges the agent sees.
	// Zero means DefaultContextWindowLength.
	ContextWindowLength int
}

// TitleParams describes a title generation run.
type TitleParams struct {
	UserID       string
	SessionID    string
	HumanMessage string
	Credentials  models.Credentials
	Model        models.ConversationModel
}

// BuildChat builds the graph that answers one chat turn: the trigger
// restores the history into memory, the agent replies using the model and
// memory, and the memory is cleared afterwards.
func BuildChat(p ChatParams) (*Graph, *RunExecutionData, error) {
	trigger := buildChatTriggerNode()
	modelNode, err := BuildModelNode(p.Credentials, p.Model)
	if err != nil {
		return nil, nil, err
	}
	window := p.ContextWindowLength
	if window <= 0 {
		window = DefaultContextWindowLength
	}

	g := &Graph{
		Name: fmt.Sprintf("Chat %s", p.SessionID),
		Nodes: []Node{
			trigger,
			buildReplyAgentNode(p.Model, p.SystemMessage),
			modelNode,
			buildMemoryNode(window),
			buildRestoreMemoryNode(p.History),
			buildClearMemoryNode(),
		},
		Connections: Connections{
			NodeNameChatTrigger: {
				ConnectionMain: {{{Node: NodeNameRestoreMemory, Type: ConnectionMain}}},
			},
			NodeNameRestoreMemory: {
				ConnectionMain: {{{Node: NodeNameReplyAgent, Type: ConnectionMain}}},
			},
			NodeNameChatModel: {
				ConnectionLanguageModel: {{{Node: NodeNameReplyAgent, Type: ConnectionLanguageModel}}},
			},
			NodeNameMemory: {
				ConnectionMemory: {{
					{Node: NodeNameReplyAgent, Type: ConnectionMemory},
					{Node: NodeNameRestoreMemory, Type: ConnectionMemory},
					{Node: NodeNameClearMemory, Type: ConnectionMemory},
				}},
			},
			NodeNameReplyAgent: {
				ConnectionMain: {{{Node: NodeNameClearMemory, Type: ConnectionMain}}},
			},
		},
	}

	return g, SeedForTrigger(trigger, p.SessionID, p.HumanMessage, p.UserID), nil
}

// BuildTitle builds the graph that turns the first human message into a
// session title.
func BuildTitle(p TitleParams) (*Graph, *RunExecutionData, error) {
	trigger := buildChatTriggerNode()
	modelNode, err := BuildModelNode(p.Credentials, p.Model)
	if err != nil {
		return nil, nil, err
	}

	g := &Graph{
		Name:  fmt.Sprintf("Chat %s (Title Generation)", p.SessionID),
		Nodes: []Node{trigger, buildTitleGeneratorAgentNode(), modelNode},
		Connections: Connections{
			NodeNameChatTrigger: {
				ConnectionMain: {{{Node: NodeNameTitleGeneratorAgent, Type: ConnectionMain}}},
			},
			NodeNameChatModel: {
				ConnectionLanguageModel: {{{Node: NodeNameTitleGeneratorAgent, Type: ConnectionLanguageModel}}},
			},
		},
	}

	return g, SeedForTrigger(trigger, p.SessionID, p.HumanMessage, p.UserID), nil
}

// SeedForTrigger returns execution data that starts at trigger with a
// single sendMessage item.
func SeedForTrigger(trigger Node, sessionID, message, userID string) *RunExecutionData {
	return &RunExecutionData{
		StartData:  map[string]any{},
		ResultData: ResultData{RunData: map[string][]TaskRun{}},
		ExecutionData: ExecutionState{
			ContextData: map[string]any{},
			Metadata:    map[string]any{},
			NodeExecutionStack: []ExecuteData{{
				Node: trigger,
				Data: TaskData{
					ConnectionMain: {{{JSON: map[string]any{
						"sessionId": sessionID,
						"action":    "sendMessage",
						"chatInput": message,
					}}}},
				},
				Source: nil,
			}},
			WaitingExecution:       map[string]any{},
			WaitingExecutionSource: map[string]any{},
		},
		ManualData: ManualData{UserID: userID},
	}
}

// BuildModelNode builds the LLM node for an LLM provider selection.
func BuildModelNode(credentials models.Credentials, m models.ConversationModel) (Node, error) {
	llm, ok := m.(models.LLMModel)
	if !ok {
		return Node{}, ErrNoModelNode
	}
	nodeType, ok := ProviderNodeTypes[llm.Provider()]
	if !ok {
		return Node{}, fmt.Errorf("no model node for provider %q", llm.Provider())
	}

	modelParam := map[string]any{
		"__rl":  true,
		"mode":  "id",
		"value": llm.ModelName(),
	}
	if llm.Provider() == db.ProviderAnthropic {
		modelParam["cachedResultName"] = llm.ModelName()
	}

	return Node{
		ID:          uuid.New().String(),
		Name:        NodeNameChatModel,
		Type:        nodeType.Name,
		TypeVersion: nodeType.Version,
		Position:    [2]int{600, 300},
		Credentials: credentials,
		Parameters: map[string]any{
			"model":   modelParam,
			"options": map[string]any{},
		},
	}, nil
}

// TriggerExpression references a field of the chat trigger's output item.
func TriggerExpression(field string) string {
	return fmt.Sprintf("={{ $('%s').item.json.%s }}", NodeNameChatTrigger, field)
}

func buildChatTriggerNode() Node {
	return Node{
		ID:          uuid.New().String(),
		Name:        NodeNameChatTrigger,
		Type:        NodeTypeChatTrigger,
		TypeVersion: 1.4,
		Position:    [2]int{0, 0},
		Parameters:  map[string]any{},
		WebhookID:   uuid.New().String(),
	}
}

func buildReplyAgentNode(m models.ConversationModel, systemMessage string) Node {
	options := map[string]any{"enableStreaming": true}
	if llm, ok := m.(models.LLMModel); ok {
		options["maxTokensFromMemory"] = MaxContextWindowTokens(llm.Provider(), llm.ModelName())
	}
	if systemMessage != "" {
		options["systemMessage"] = systemMessage
	}

	return Node{
		ID:          uuid.New().String(),
		Name:        NodeNameReplyAgent,
		Type:        NodeTypeAgent,
		TypeVersion: 3,
		Position:    [2]int{600, 0},
		Parameters: map[string]any{
			"promptType": "define",
			"text":       TriggerExpression("chatInput"),
			"options":    options,
		},
	}
}

func buildTitleGeneratorAgentNode() Node {
	return Node{
		ID:          uuid.New().String(),
		Name:        NodeNameTitleGeneratorAgent,
		Type:        NodeTypeAgent,
		TypeVersion: 3,
		Position:    [2]int{600, 0},
		Parameters: map[string]any{
			"promptType": "define",
			"text":       TriggerExpression("chatInput"),
			"options": map[string]any{
				"enableStreaming": false,
				"systemMessage":   TitleGenerationPrompt,
			},
		},
	}
}

func buildMemoryNode(contextWindowLength int) Node {
	return Node{
		ID:          uuid.New().String(),
		Name:        NodeNameMemory,
		Type:        NodeTypeMemoryBufferWindow,
		TypeVersion: 1.3,
		Position:    [2]int{480, 208},
		Parameters: map[string]any{
			"sessionIdType":       "customKey",
			"sessionKey":          TriggerExpression("sessionId"),
			"contextWindowLength": contextWindowLength,
		},
	}
}

// Memory roles understood by the memory manager.
const (
	RoleUser   = "user"
	RoleAI     = "ai"
	RoleSystem = "system"
)

func memoryRole(messageType string) string {
	switch messageType {
	case models.MessageTypeHuman:
		return RoleUser
	case models.MessageTypeAI:
		return RoleAI
	default:
		return RoleSystem
	}
}

func buildRestoreMemoryNode(history []*models.ChatHubMessage) Node {
	values := make([]any, 0, len(history))
	for _, msg := range history {
		// The memory manager cannot restore empty messages.
		if msg.Content == "" {
			continue
		}
		values = append(values, map[string]any{
			"type":       memoryRole(msg.Type),
			"message":    msg.Content,
			"hideFromUI": false,
		})
	}

	return Node{
		ID:          uuid.New().String(),
		Name:        NodeNameRestoreMemory,
		Type:        NodeTypeMemoryManager,
		TypeVersion: 1.1,
		Position:    [2]int{224, 0},
		Parameters: map[string]any{
			"mode":       "insert",
			"insertMode": "override",
			"messages": map[string]any{
				"messageValues": values,
			},
		},
	}
}

func buildClearMemoryNode() Node {
	return Node{
		ID:          uuid.New().String(),
		Name:        NodeNameClearMemory,
		Type:        NodeTypeMemoryManager,
		TypeVersion: 1.1,
		Position:    [2]int{976, 0},
		Parameters: map[string]any{
			"mode":       "delete",
			"deleteMode": "all",
		},
	}
}
