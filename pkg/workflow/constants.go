package workflow

import "github.com/choraleia/chathub/pkg/db"

// Node types
const (
	NodeTypeChatTrigger        = "@n8n/n8n-nodes-langchain.chatTrigger"
	NodeTypeAgent              = "@n8n/n8n-nodes-langchain.agent"
	NodeTypeMemoryBufferWindow = "@n8n/n8n-nodes-langchain.memoryBufferWindow"
	NodeTypeMemoryManager      = "@n8n/n8n-nodes-langchain.memoryManager"
	NodeTypeRespondToChat      = "@n8n/n8n-nodes-langchain.chat"
	NodeTypeLmChatOpenAI       = "@n8n/n8n-nodes-langchain.lmChatOpenAi"
	NodeTypeLmChatAnthropic    = "@n8n/n8n-nodes-langchain.lmChatAnthropic"
	NodeTypeLmChatGoogle       = "@n8n/n8n-nodes-langchain.lmChatGoogleGemini"
)

// Node names used by the generated chat graphs
const (
	NodeNameChatTrigger         = "When chat message received"
	NodeNameReplyAgent          = "AI Agent"
	NodeNameChatModel           = "Chat Model"
	NodeNameMemory              = "Memory"
	NodeNameRestoreMemory       = "Restore Chat Memory"
	NodeNameClearMemory         = "Clear Chat Memory"
	NodeNameTitleGeneratorAgent = "Title Generator Agent"
)

// ModelNodeType identifies the LLM node type of a provider.
type ModelNodeType struct {
	Name    string
	Version float64
}

// ProviderNodeTypes maps each LLM provider to its model node.
var ProviderNodeTypes = map[string]ModelNodeType{
	db.ProviderOpenAI:    {Name: NodeTypeLmChatOpenAI, Version: 1.2},
	db.ProviderAnthropic: {Name: NodeTypeLmChatAnthropic, Version: 1.3},
	db.ProviderGoogle:    {Name: NodeTypeLmChatGoogle, Version: 1},
}

// ProviderForNodeType is the reverse of ProviderNodeTypes.
func ProviderForNodeType(nodeType string) (string, bool) {
	for provider, nt := range ProviderNodeTypes {
		if nt.Name == nodeType {
			return provider, true
		}
	}
	return "", false
}

// DefaultContextWindowLength is the number of turns the buffer window
// memory of a chat graph keeps.
const DefaultContextWindowLength = 20

// TitleGenerationPrompt is the system message of the title agent.
const TitleGenerationPrompt = `Generate a short title for a conversation that starts with the user message below.

Rules:
- At most 6 words, in the language of the message.
- No quotes, no trailing punctuation, no emojis.
- Describe the topic, do not answer the message.
- Reply with the title only.`
