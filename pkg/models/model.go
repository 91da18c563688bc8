package models

import (
	"errors"
	"fmt"

	"github.com/choraleia/chathub/pkg/db"
)

var ErrInvalidModel = errors.New("invalid model selection")

// ConversationModel selects what answers a chat turn. The set of
// implementations is closed: OpenAIModel, AnthropicModel, GoogleModel,
// N8nWorkflowModel and CustomAgentModel.
type ConversationModel interface {
	Provider() string
	isConversationModel()
}

// LLMModel is a ConversationModel backed by a provider model node.
type LLMModel interface {
	ConversationModel
	ModelName() string
}

type OpenAIModel struct{ Model string }
type AnthropicModel struct{ Model string }
type GoogleModel struct{ Model string }

// N8nWorkflowModel answers with a stored workflow that has its own chat trigger.
type N8nWorkflowModel struct{ WorkflowID string }

// CustomAgentModel answers with a saved ChatHubAgent.
type CustomAgentModel struct{ AgentID string }

func (OpenAIModel) Provider() string      { return db.ProviderOpenAI }
func (AnthropicModel) Provider() string   { return db.ProviderAnthropic }
func (GoogleModel) Provider() string      { return db.ProviderGoogle }
func (N8nWorkflowModel) Provider() string { return db.ProviderN8n }
func (CustomAgentModel) Provider() string { return db.ProviderCustomAgent }

func (m OpenAIModel) ModelName() string    { return m.Model }
func (m AnthropicModel) ModelName() string { return m.Model }
func (m GoogleModel) ModelName() string    { return m.Model }

func (OpenAIModel) isConversationModel()      {}
func (AnthropicModel) isConversationModel()   {}
func (GoogleModel) isConversationModel()      {}
func (N8nWorkflowModel) isConversationModel() {}
func (CustomAgentModel) isConversationModel() {}

// NewLLMModel builds the selector for a model-node provider.
func NewLLMModel(provider, model string) (LLMModel, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: model is required for provider %s", ErrInvalidModel, provider)
	}
	switch provider {
	case db.ProviderOpenAI:
		return OpenAIModel{Model: model}, nil
	case db.ProviderAnthropic:
		return AnthropicModel{Model: model}, nil
	case db.ProviderGoogle:
		return GoogleModel{Model: model}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not an LLM provider", ErrInvalidModel, provider)
	}
}

// ConversationModelDTO is the wire form of a ConversationModel.
type ConversationModelDTO struct {
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
}

// Parse validates the DTO and returns the matching selector.
func (d ConversationModelDTO) Parse() (ConversationModel, error) {
	switch d.Provider {
	case db.ProviderOpenAI, db.ProviderAnthropic, db.ProviderGoogle:
		return NewLLMModel(d.Provider, d.Model)
	case db.ProviderN8n:
		if d.WorkflowID == "" {
			return nil, fmt.Errorf("%w: workflowId is required for provider n8n", ErrInvalidModel)
		}
		return N8nWorkflowModel{WorkflowID: d.WorkflowID}, nil
	case db.ProviderCustomAgent:
		if d.AgentID == "" {
			return nil, fmt.Errorf("%w: agentId is required for provider custom-agent", ErrInvalidModel)
		}
		return CustomAgentModel{AgentID: d.AgentID}, nil
	case "":
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidModel)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidModel, d.Provider)
	}
}

// ToDTO converts a selector to its wire form.
func ToDTO(m ConversationModel) ConversationModelDTO {
	switch v := m.(type) {
	case OpenAIModel:
		return ConversationModelDTO{Provider: v.Provider(), Model: v.Model}
	case AnthropicModel:
		return ConversationModelDTO{Provider: v.Provider(), Model: v.Model}
	case GoogleModel:
		return ConversationModelDTO{Provider: v.Provider(), Model: v.Model}
	case N8nWorkflowModel:
		return ConversationModelDTO{Provider: v.Provider(), WorkflowID: v.WorkflowID}
	case CustomAgentModel:
		return ConversationModelDTO{Provider: v.Provider(), AgentID: v.AgentID}
	default:
		panic(fmt.Sprintf("unhandled conversation model %T", m))
	}
}

// CredentialRef points at a stored credential from a model node.
type CredentialRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Credentials maps a credential type (openAiApi, anthropicApi, ...) to the
// credential bound to it.
type Credentials map[string]CredentialRef

// ProviderCredentialTypes maps each LLM provider to its credential type.
var ProviderCredentialTypes = map[string]string{
	db.ProviderOpenAI:    db.CredentialTypeOpenAI,
	db.ProviderAnthropic: db.CredentialTypeAnthropic,
	db.ProviderGoogle:    db.CredentialTypeGoogle,
}

// CredentialIDFor returns the credential bound to provider, or "" if none.
func (c Credentials) CredentialIDFor(provider string) string {
	credType, ok := ProviderCredentialTypes[provider]
	if !ok {
		return ""
	}
	return c[credType].ID
}

// CredentialsFor builds the single-entry credential map for provider.
func CredentialsFor(provider, credentialID string) Credentials {
	return Credentials{ProviderCredentialTypes[provider]: {ID: credentialID}}
}

// SelectedModel is the flattened selection stored on sessions and messages.
type SelectedModel struct {
	Provider     string
	Model        *string
	WorkflowID   *string
	AgentID      *string
	CredentialID *string
}

// SelectModel flattens a selector together with the credential it runs with.
func SelectModel(m ConversationModel, creds Credentials) SelectedModel {
	sel := SelectedModel{Provider: m.Provider()}
	switch v := m.(type) {
	case LLMModel:
		name := v.ModelName()
		sel.Model = &name
		if id := creds.CredentialIDFor(v.Provider()); id != "" {
			sel.CredentialID = &id
		}
	case N8nWorkflowModel:
		id := v.WorkflowID
		sel.WorkflowID = &id
	case CustomAgentModel:
		id := v.AgentID
		sel.AgentID = &id
	}
	return sel
}
