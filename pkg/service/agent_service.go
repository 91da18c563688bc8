package service

import (
	"context"
	"log/slog"

	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// AgentService manages saved chat agents. Agents are private to their owner.
type AgentService struct {
	db          *gorm.DB
	credentials *CredentialsService
	logger      *slog.Logger
}

// NewAgentService creates an agent service.
func NewAgentService(database *gorm.DB, credentials *CredentialsService) *AgentService {
	return &AgentService{
		db:          database,
		credentials: credentials,
		logger:      utils.GetLogger(),
	}
}

// List returns the agents owned by userID, newest first.
func (s *AgentService) List(ctx context.Context, userID string) ([]models.ChatHubAgent, error) {
	var agents []models.ChatHubAgent
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Order("created_at DESC").
		Find(&agents).Error
	return agents, errors.Wrap(err, "list chat agents")
}

// Get returns an agent owned by userID. tx may be nil.
func (s *AgentService) Get(ctx context.Context, tx *gorm.DB, userID, agentID string) (*models.ChatHubAgent, error) {
	conn := tx
	if conn == nil {
		conn = s.db.WithContext(ctx)
	}
	var agent models.ChatHubAgent
	err := conn.Where("id = ? AND owner_id = ?", agentID, userID).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Chat agent not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get chat agent")
	}
	return &agent, nil
}

// Create stores a new agent after checking the user may use its credential.
func (s *AgentService) Create(ctx context.Context, userID string, req *models.CreateAgentRequest) (*models.ChatHubAgent, error) {
	if !db.IsLLMProvider(req.Provider) {
		return nil, badRequest("Invalid provider %q", req.Provider)
	}

	agent := models.ChatHubAgent{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Description:  req.Description,
		SystemPrompt: req.SystemPrompt,
		OwnerID:      userID,
		CredentialID: &req.CredentialID,
		Provider:     req.Provider,
		Model:        &req.Model,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.credentials.EnsureCredentialByID(ctx, tx, userID, req.CredentialID); err != nil {
			return err
		}
		return errors.Wrap(tx.Create(&agent).Error, "create chat agent")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Chat agent created", "agentID", agent.ID, "userID", userID)
	return &agent, nil
}

// Update patches an agent owned by userID.
func (s *AgentService) Update(ctx context.Context, userID, agentID string, req *models.UpdateAgentRequest) (*models.ChatHubAgent, error) {
	var agent *models.ChatHubAgent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		agent, err = s.Get(ctx, tx, userID, agentID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if req.Name != nil {
			updates["name"] = *req.Name
		}
		if req.Description != nil {
			updates["description"] = *req.Description
		}
		if req.SystemPrompt != nil {
			updates["system_prompt"] = *req.SystemPrompt
		}
		if req.Provider != nil {
			if !db.IsLLMProvider(*req.Provider) {
				return badRequest("Invalid provider %q", *req.Provider)
			}
			updates["provider"] = *req.Provider
		}
		if req.Model != nil {
			updates["model"] = *req.Model
		}
		if req.CredentialID != nil {
			if _, err := s.credentials.EnsureCredentialByID(ctx, tx, userID, *req.CredentialID); err != nil {
				return err
			}
			updates["credential_id"] = *req.CredentialID
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(agent).Updates(updates).Error; err != nil {
			return errors.Wrap(err, "update chat agent")
		}
		agent, err = s.Get(ctx, tx, userID, agentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Chat agent updated", "agentID", agentID, "userID", userID)
	return agent, nil
}

// Delete removes an agent owned by userID.
func (s *AgentService) Delete(ctx context.Context, userID, agentID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", agentID, userID).Delete(&models.ChatHubAgent{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete chat agent")
	}
	if res.RowsAffected == 0 {
		return notFound("Chat agent not found")
	}
	s.logger.Info("Chat agent deleted", "agentID", agentID, "userID", userID)
	return nil
}

// AgentsAsModels lists the user's agents as custom-agent model choices.
func (s *AgentService) AgentsAsModels(ctx context.Context, userID string) (models.ProviderModels, error) {
	agents, err := s.List(ctx, userID)
	if err != nil {
		return models.ProviderModels{}, err
	}
	out := models.ProviderModels{Models: make([]models.ChatModel, 0, len(agents))}
	for i := range agents {
		a := &agents[i]
		out.Models = append(out.Models, models.ChatModel{
			Name:        a.Name,
			Description: a.Description,
			Model:       models.ToDTO(models.CustomAgentModel{AgentID: a.ID}),
			CreatedAt:   &a.CreatedAt,
			UpdatedAt:   &a.UpdatedAt,
		})
	}
	return out, nil
}
