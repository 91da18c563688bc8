package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/choraleia/chathub/pkg/workflow"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einoModel "github.com/cloudwego/eino/components/model"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sourcegraph/conc/pool"
	"google.golang.org/genai"
)

const modelsUnavailable = "Could not retrieve models. Verify credentials."

// modelLister fetches the models a provider offers for a credential.
type modelLister func(ctx context.Context, data *models.CredentialData) ([]models.ChatModel, error)

// ModelService lists selectable models per provider and creates the eino
// chat models the engine runs LLM nodes with.
type ModelService struct {
	credentials  *CredentialsService
	workflows    *WorkflowService
	agents       *AgentService
	listers      map[string]modelLister
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// NewModelService creates a model service.
func NewModelService(credentials *CredentialsService, workflows *WorkflowService, agents *AgentService) *ModelService {
	return &ModelService{
		credentials: credentials,
		workflows:   workflows,
		agents:      agents,
		listers: map[string]modelLister{
			db.ProviderOpenAI:    fetchOpenAIModels,
			db.ProviderAnthropic: fetchAnthropicModels,
			db.ProviderGoogle:    fetchGoogleModels,
		},
		fetchTimeout: 30 * time.Second,
		logger:       utils.GetLogger(),
	}
}

// ========== Model listing ==========

type providerModels struct {
	provider string
	models   models.ProviderModels
}

// GetModels returns the model choices of every provider. credentialIDs
// holds the credential selected per LLM provider. A provider that cannot be
// listed yields an empty list with an error message instead of failing the
// whole response.
func (m *ModelService) GetModels(ctx context.Context, userID string, credentialIDs map[string]*string) (models.ChatModelsResponse, error) {
	p := pool.NewWithResults[providerModels]().WithContext(ctx)
	for _, provider := range db.LLMProviders {
		provider := provider
		var credentialID string
		if id := credentialIDs[provider]; id != nil {
			credentialID = *id
		}
		p.Go(func(ctx context.Context) (providerModels, error) {
			return providerModels{provider, m.llmModels(ctx, userID, provider, credentialID)}, nil
		})
	}
	p.Go(func(ctx context.Context) (providerModels, error) {
		list, err := m.workflowModels(ctx, userID)
		return providerModels{db.ProviderN8n, list}, err
	})
	p.Go(func(ctx context.Context) (providerModels, error) {
		list, err := m.agents.AgentsAsModels(ctx, userID)
		return providerModels{db.ProviderCustomAgent, list}, err
	})

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}
	resp := make(models.ChatModelsResponse, len(results))
	for _, r := range results {
		resp[r.provider] = r.models
	}
	return resp, nil
}

func (m *ModelService) llmModels(ctx context.Context, userID, provider, credentialID string) models.ProviderModels {
	empty := models.ProviderModels{Models: []models.ChatModel{}}
	if credentialID == "" {
		return empty
	}

	unavailable := models.ProviderModels{Models: []models.ChatModel{}, Error: modelsUnavailable}
	ok, err := m.credentials.CheckReadAccess(ctx, nil, userID, credentialID)
	if err != nil || !ok {
		return unavailable
	}
	data, err := m.credentials.Data(ctx, credentialID)
	if err != nil {
		m.logger.Warn("Failed to read credential", "provider", provider, "credentialID", credentialID, "error", err)
		return unavailable
	}

	ctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()
	list, err := m.listers[provider](ctx, data)
	if err != nil {
		m.logger.Warn("Failed to list provider models", "provider", provider, "error", err)
		return unavailable
	}
	return models.ProviderModels{Models: list}
}

// workflowModels lists the active workflows that can be chatted with.
func (m *ModelService) workflowModels(ctx context.Context, userID string) (models.ProviderModels, error) {
	stored, err := m.workflows.ListByNodeTypePresence(ctx, userID, workflow.NodeTypeChatTrigger)
	if err != nil {
		return models.ProviderModels{}, err
	}

	out := models.ProviderModels{Models: []models.ChatModel{}}
	for i := range stored {
		wf := &stored[i]
		if !wf.Entity.Active {
			continue
		}
		trigger := wf.Graph.NodesOfType(workflow.NodeTypeChatTrigger)[0]
		if available, _ := trigger.BoolParam("availableInChat"); !available {
			continue
		}

		name, _ := trigger.StringParam("agentName")
		if name == "" {
			name = wf.Entity.Name
		}
		var description *string
		if d, _ := trigger.StringParam("agentDescription"); d != "" {
			description = &d
		}
		out.Models = append(out.Models, models.ChatModel{
			Name:        name,
			Description: description,
			Model:       models.ToDTO(models.N8nWorkflowModel{WorkflowID: wf.Entity.ID}),
			CreatedAt:   &wf.Entity.CreatedAt,
			UpdatedAt:   &wf.Entity.UpdatedAt,
		})
	}
	return out, nil
}

func llmChatModel(provider, id, name string) models.ChatModel {
	m, _ := models.NewLLMModel(provider, id)
	return models.ChatModel{Name: name, Model: models.ToDTO(m)}
}

var openAIExcluded = []string{"embedding", "audio", "realtime", "tts", "transcribe", "whisper", "dall-e", "image", "moderation", "instruct"}

// isOpenAIChatModel keeps the models that serve chat completions.
func isOpenAIChatModel(id string) bool {
	if !strings.HasPrefix(id, "gpt-") && !strings.HasPrefix(id, "chatgpt-") &&
		!strings.HasPrefix(id, "o1") && !strings.HasPrefix(id, "o3") && !strings.HasPrefix(id, "o4") &&
		!strings.HasPrefix(id, "ft:") {
		return false
	}
	for _, ex := range openAIExcluded {
		if strings.Contains(id, ex) {
			return false
		}
	}
	return true
}

func fetchOpenAIModels(ctx context.Context, data *models.CredentialData) ([]models.ChatModel, error) {
	cfg := goopenai.DefaultConfig(data.APIKey)
	if data.BaseURL != "" {
		cfg.BaseURL = data.BaseURL
	}
	list, err := goopenai.NewClientWithConfig(cfg).ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list OpenAI models: %w", err)
	}

	out := make([]models.ChatModel, 0, len(list.Models))
	for _, mm := range list.Models {
		if isOpenAIChatModel(mm.ID) {
			out = append(out, llmChatModel(db.ProviderOpenAI, mm.ID, mm.ID))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func fetchAnthropicModels(ctx context.Context, data *models.CredentialData) ([]models.ChatModel, error) {
	opts := []option.RequestOption{option.WithAPIKey(data.APIKey)}
	if data.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(data.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	page, err := client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to list Anthropic models: %w", err)
	}

	out := make([]models.ChatModel, 0, len(page.Data))
	for _, info := range page.Data {
		name := info.DisplayName
		if name == "" {
			name = info.ID
		}
		out = append(out, llmChatModel(db.ProviderAnthropic, info.ID, name))
	}
	return out, nil
}

func fetchGoogleModels(ctx context.Context, data *models.CredentialData) ([]models.ChatModel, error) {
	cfg := &genai.ClientConfig{
		APIKey:  data.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if data.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: data.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	out := []models.ChatModel{}
	page, err := client.Models.List(ctx, &genai.ListModelsConfig{})
	for {
		if err != nil {
			return nil, fmt.Errorf("failed to list Gemini models: %w", err)
		}
		for _, mm := range page.Items {
			if strings.Contains(mm.Name, "embedding") {
				continue
			}
			out = append(out, llmChatModel(db.ProviderGoogle, mm.Name, mm.Name))
		}
		if page.NextPageToken == "" {
			break
		}
		page, err = page.Next(ctx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ========== Chat model creation ==========

// CreateChatModel creates the eino chat model for an LLM node. The
// credential is read and decrypted here so that secrets never travel
// through workflow graphs.
func (m *ModelService) CreateChatModel(ctx context.Context, provider, model, credentialID string) (einoModel.BaseChatModel, error) {
	data, err := m.credentials.Data(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	switch provider {
	case db.ProviderOpenAI:
		chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: data.BaseURL,
			APIKey:  data.APIKey,
			Model:   model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
		}
		return chatModel, nil

	case db.ProviderAnthropic:
		var baseURL *string
		if data.BaseURL != "" {
			baseURL = &data.BaseURL
		}
		chatModel, err := claude.NewChatModel(ctx, &claude.Config{
			BaseURL:   baseURL,
			APIKey:    data.APIKey,
			Model:     model,
			MaxTokens: 8192,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Claude model: %w", err)
		}
		return chatModel, nil

	case db.ProviderGoogle:
		cfg := &genai.ClientConfig{
			APIKey:  data.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if data.BaseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: data.BaseURL}
		}
		genaiClient, err := genai.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: genaiClient,
			Model:  model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return chatModel, nil

	default:
		return nil, fmt.Errorf("unsupported model provider: %s", provider)
	}
}
