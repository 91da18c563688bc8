package workflow

import (
	"errors"
	"testing"

	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/google/go-cmp/cmp"
)

func testCredentials() models.Credentials {
	return models.Credentials{db.CredentialTypeOpenAI: {ID: "cred-1", Name: "OpenAI"}}
}

func TestBuildChat_Graph(t *testing.T) {
	g, seed, err := BuildChat(ChatParams{
		UserID:       "user-1",
		SessionID:    "session-1",
		HumanMessage: "Hello",
		Credentials:  testCredentials(),
		Model:        models.OpenAIModel{Model: "gpt-4o"},
	})
	if err != nil {
		t.Fatalf("BuildChat() error = %v", err)
	}

	if g.Name != "Chat session-1" {
		t.Fatalf("Name = %q, want %q", g.Name, "Chat session-1")
	}
	if len(g.Nodes) != 6 {
		t.Fatalf("len(Nodes) = %d, want 6", len(g.Nodes))
	}

	wantTypes := map[string]string{
		NodeNameChatTrigger:   NodeTypeChatTrigger,
		NodeNameReplyAgent:    NodeTypeAgent,
		NodeNameChatModel:     NodeTypeLmChatOpenAI,
		NodeNameMemory:        NodeTypeMemoryBufferWindow,
		NodeNameRestoreMemory: NodeTypeMemoryManager,
		NodeNameClearMemory:   NodeTypeMemoryManager,
	}
	for name, typ := range wantTypes {
		n, ok := g.NodeByName(name)
		if !ok {
			t.Fatalf("node %q missing", name)
		}
		if n.Type != typ {
			t.Fatalf("node %q type = %q, want %q", name, n.Type, typ)
		}
	}

	if diff := cmp.Diff([]string{NodeNameRestoreMemory}, g.Next(NodeNameChatTrigger)); diff != "" {
		t.Fatalf("trigger successors (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{NodeNameClearMemory}, g.Next(NodeNameReplyAgent)); diff != "" {
		t.Fatalf("agent successors (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{NodeNameChatModel}, g.Sources(NodeNameReplyAgent, ConnectionLanguageModel)); diff != "" {
		t.Fatalf("agent model sources (-want +got):\n%s", diff)
	}
	memTargets := g.Connections[NodeNameMemory][ConnectionMemory][0]
	if len(memTargets) != 3 {
		t.Fatalf("memory targets = %d, want 3", len(memTargets))
	}

	stack := seed.ExecutionData.NodeExecutionStack
	if len(stack) != 1 || stack[0].Node.Name != NodeNameChatTrigger {
		t.Fatalf("execution stack = %+v, want single trigger entry", stack)
	}
	item := stack[0].Data[ConnectionMain][0][0].JSON
	if item["chatInput"] != "Hello" || item["sessionId"] != "session-1" || item["action"] != "sendMessage" {
		t.Fatalf("seed item = %v", item)
	}
	if seed.ManualData.UserID != "user-1" {
		t.Fatalf("ManualData.UserID = %q, want user-1", seed.ManualData.UserID)
	}
}

func TestBuildChat_AgentOptions(t *testing.T) {
	g, _, err := BuildChat(ChatParams{
		SessionID:     "s",
		Credentials:   models.Credentials{db.CredentialTypeAnthropic: {ID: "c"}},
		Model:         models.AnthropicModel{Model: "claude-sonnet-4"},
		SystemMessage: "Be brief.",
	})
	if err != nil {
		t.Fatalf("BuildChat() error = %v", err)
	}
	agent, _ := g.NodeByName(NodeNameReplyAgent)

	if v, _ := agent.BoolParam("options", "enableStreaming"); !v {
		t.Fatalf("enableStreaming = false, want true")
	}
	if v, _ := agent.IntParam("options", "maxTokensFromMemory"); v != 200000 {
		t.Fatalf("maxTokensFromMemory = %d, want 200000", v)
	}
	if v, _ := agent.StringParam("options", "systemMessage"); v != "Be brief." {
		t.Fatalf("systemMessage = %q", v)
	}

	model, _ := g.NodeByName(NodeNameChatModel)
	if v, _ := model.StringParam("model", "cachedResultName"); v != "claude-sonnet-4" {
		t.Fatalf("cachedResultName = %q, want claude-sonnet-4", v)
	}
	if model.Credentials[db.CredentialTypeAnthropic].ID != "c" {
		t.Fatalf("model credentials = %v", model.Credentials)
	}
}

func TestBuildChat_RestoreSkipsEmptyMessages(t *testing.T) {
	history := []*models.ChatHubMessage{
		{ID: "1", Type: models.MessageTypeHuman, Content: "hi"},
		{ID: "2", Type: models.MessageTypeAI, Content: ""},
		{ID: "3", Type: models.MessageTypeAI, Content: "hello"},
	}
	g, _, err := BuildChat(ChatParams{
		SessionID:   "s",
		History:     history,
		Credentials: testCredentials(),
		Model:       models.OpenAIModel{Model: "gpt-4o"},
	})
	if err != nil {
		t.Fatalf("BuildChat() error = %v", err)
	}
	restore, _ := g.NodeByName(NodeNameRestoreMemory)
	raw, _ := restore.Param("messages", "messageValues")
	values := raw.([]any)

	if len(values) != 2 {
		t.Fatalf("len(messageValues) = %d, want 2", len(values))
	}
	first := values[0].(map[string]any)
	if first["type"] != RoleUser || first["message"] != "hi" {
		t.Fatalf("messageValues[0] = %v", first)
	}
	second := values[1].(map[string]any)
	if second["type"] != RoleAI || second["hideFromUI"] != false {
		t.Fatalf("messageValues[1] = %v", second)
	}
}

func TestBuildModelNode_RejectsNonLLMProviders(t *testing.T) {
	for _, m := range []models.ConversationModel{
		models.N8nWorkflowModel{WorkflowID: "wf"},
		models.CustomAgentModel{AgentID: "agent"},
	} {
		if _, err := BuildModelNode(nil, m); !errors.Is(err, ErrNoModelNode) {
			t.Fatalf("BuildModelNode(%T) error = %v, want ErrNoModelNode", m, err)
		}
	}
}

func TestBuildTitle(t *testing.T) {
	g, seed, err := BuildTitle(TitleParams{
		SessionID:    "s",
		HumanMessage: "How do I bake bread?",
		Credentials:  models.Credentials{db.CredentialTypeGoogle: {ID: "g"}},
		Model:        models.GoogleModel{Model: "gemini-2.0-flash"},
	})
	if err != nil {
		t.Fatalf("BuildTitle() error = %v", err)
	}
	if g.Name != "Chat s (Title Generation)" {
		t.Fatalf("Name = %q", g.Name)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("len(Nodes) = %d, want 3", len(g.Nodes))
	}
	agent, ok := g.NodeByName(NodeNameTitleGeneratorAgent)
	if !ok {
		t.Fatalf("title agent missing")
	}
	if v, ok := agent.BoolParam("options", "enableStreaming"); !ok || v {
		t.Fatalf("enableStreaming = %v, want false", v)
	}
	if diff := cmp.Diff([]string{NodeNameTitleGeneratorAgent}, g.Next(NodeNameChatTrigger)); diff != "" {
		t.Fatalf("trigger successors (-want +got):\n%s", diff)
	}
	if got := seed.ExecutionData.NodeExecutionStack[0].Data[ConnectionMain][0][0].JSON["chatInput"]; got != "How do I bake bread?" {
		t.Fatalf("chatInput = %v", got)
	}
}

func TestEntityRoundTrip(t *testing.T) {
	g, _, err := BuildChat(ChatParams{
		SessionID:   "s",
		Credentials: testCredentials(),
		Model:       models.OpenAIModel{Model: "gpt-4o"},
	})
	if err != nil {
		t.Fatalf("BuildChat() error = %v", err)
	}
	var w db.Workflow
	if err := g.ToEntity(&w); err != nil {
		t.Fatalf("ToEntity() error = %v", err)
	}
	back, err := FromEntity(&w)
	if err != nil {
		t.Fatalf("FromEntity() error = %v", err)
	}
	if len(back.NodesOfType(NodeTypeMemoryManager)) != 2 {
		t.Fatalf("decoded memory manager nodes = %d, want 2", len(back.NodesOfType(NodeTypeMemoryManager)))
	}
	agent, _ := back.NodeByName(NodeNameReplyAgent)
	if v, _ := agent.IntParam("options", "maxTokensFromMemory"); v != 128000 {
		t.Fatalf("decoded maxTokensFromMemory = %d, want 128000", v)
	}
}

func TestEvaluate(t *testing.T) {
	lookup := func(node, field string) (any, bool) {
		if node == NodeNameChatTrigger && field == "chatInput" {
			return "Hello", true
		}
		return nil, false
	}
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "plain", false},
		{TriggerExpression("chatInput"), "Hello", false},
		{TriggerExpression("missing"), "", true},
		{"={{ $json.foo }}", "", true},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.in, lookup)
		if (err != nil) != tt.wantErr {
			t.Fatalf("Evaluate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("Evaluate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaxContextWindowTokens(t *testing.T) {
	tests := []struct {
		provider, model string
		want            int
	}{
		{db.ProviderOpenAI, "gpt-4o-mini", 128000},
		{db.ProviderOpenAI, "gpt-4", 8192},
		{db.ProviderOpenAI, "unknown-model", 128000},
		{db.ProviderAnthropic, "claude-3-5-haiku-latest", 200000},
		{db.ProviderGoogle, "models/gemini-1.5-pro", 2097152},
		{"other", "x", 8192},
	}
	for _, tt := range tests {
		if got := MaxContextWindowTokens(tt.provider, tt.model); got != tt.want {
			t.Fatalf("MaxContextWindowTokens(%q, %q) = %d, want %d", tt.provider, tt.model, got, tt.want)
		}
	}
}
