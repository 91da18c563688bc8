package service

import (
	"context"
	"log/slog"

	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/choraleia/chathub/pkg/workflow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// StoredWorkflow is a workflow row together with its decoded graph.
type StoredWorkflow struct {
	Entity db.Workflow
	Graph  *workflow.Graph
}

// WorkflowService persists workflow graphs: transient per-turn graphs the
// chat hub builds, and user workflows that answer as the n8n provider.
type WorkflowService struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewWorkflowService creates a workflow service.
func NewWorkflowService(database *gorm.DB) *WorkflowService {
	return &WorkflowService{
		db:     database,
		logger: utils.GetLogger(),
	}
}

// FindReadableByID returns the workflow if userID can read it, or nil if it
// does not exist or is not readable.
func (s *WorkflowService) FindReadableByID(ctx context.Context, tx *gorm.DB, userID, workflowID string) (*StoredWorkflow, error) {
	var wf db.Workflow
	err := s.readable(s.conn(ctx, tx), userID).Where("id = ?", workflowID).First(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find workflow")
	}
	g, err := workflow.FromEntity(&wf)
	if err != nil {
		return nil, err
	}
	return &StoredWorkflow{Entity: wf, Graph: g}, nil
}

// ListByNodeTypePresence returns the readable user workflows that contain
// at least one node of every type in nodeTypes.
func (s *WorkflowService) ListByNodeTypePresence(ctx context.Context, userID string, nodeTypes ...string) ([]StoredWorkflow, error) {
	var rows []db.Workflow
	err := s.readable(s.db.WithContext(ctx), userID).
		Where("transient = ?", false).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list workflows")
	}

	out := make([]StoredWorkflow, 0, len(rows))
rows:
	for i := range rows {
		g, err := workflow.FromEntity(&rows[i])
		if err != nil {
			s.logger.Warn("Skipping undecodable workflow", "workflowID", rows[i].ID, "error", err)
			continue
		}
		for _, t := range nodeTypes {
			if len(g.NodesOfType(t)) == 0 {
				continue rows
			}
		}
		out = append(out, StoredWorkflow{Entity: rows[i], Graph: g})
	}
	return out, nil
}

// Save persists a new graph and returns its id. Transient workflows only
// live for the duration of one execution.
func (s *WorkflowService) Save(ctx context.Context, tx *gorm.DB, userID, projectID string, g *workflow.Graph, transient bool) (string, error) {
	wf := db.Workflow{
		ID:        uuid.New().String(),
		OwnerID:   userID,
		ProjectID: projectID,
		VersionID: uuid.New().String(),
		Transient: transient,
	}
	if err := g.ToEntity(&wf); err != nil {
		return "", err
	}
	if err := s.conn(ctx, tx).Create(&wf).Error; err != nil {
		return "", errors.Wrap(err, "save workflow")
	}
	g.ID = wf.ID
	return wf.ID, nil
}

// Delete removes a workflow regardless of owner.
func (s *WorkflowService) Delete(ctx context.Context, workflowID string) error {
	err := s.db.WithContext(ctx).Where("id = ?", workflowID).Delete(&db.Workflow{}).Error
	return errors.Wrapf(err, "delete workflow %s", workflowID)
}

// ========== User workflows ==========

// Create stores a user workflow.
func (s *WorkflowService) Create(ctx context.Context, userID string, name string, active bool, g *workflow.Graph) (*db.Workflow, error) {
	if len(g.Nodes) == 0 {
		return nil, badRequest("Workflow must contain at least one node")
	}
	g.Name = name
	id, err := s.Save(ctx, nil, userID, db.PersonalProjectID(userID), g, false)
	if err != nil {
		return nil, err
	}
	if active {
		if err := s.db.WithContext(ctx).Model(&db.Workflow{}).Where("id = ?", id).Update("active", true).Error; err != nil {
			return nil, errors.Wrap(err, "activate workflow")
		}
	}
	s.logger.Info("Workflow created", "workflowID", id, "userID", userID)
	return s.Get(ctx, userID, id)
}

// List returns the user's permanent workflows.
func (s *WorkflowService) List(ctx context.Context, userID string) ([]db.Workflow, error) {
	var rows []db.Workflow
	err := s.readable(s.db.WithContext(ctx), userID).
		Where("transient = ?", false).
		Order("updated_at DESC").
		Find(&rows).Error
	return rows, errors.Wrap(err, "list workflows")
}

// Get returns one readable permanent workflow.
func (s *WorkflowService) Get(ctx context.Context, userID, workflowID string) (*db.Workflow, error) {
	var wf db.Workflow
	err := s.readable(s.db.WithContext(ctx), userID).
		Where("id = ? AND transient = ?", workflowID, false).
		First(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Workflow not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get workflow")
	}
	return &wf, nil
}

// DeleteOwned removes a permanent workflow owned by userID.
func (s *WorkflowService) DeleteOwned(ctx context.Context, userID, workflowID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND transient = ?", workflowID, userID, false).
		Delete(&db.Workflow{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete workflow")
	}
	if res.RowsAffected == 0 {
		return notFound("Workflow not found")
	}
	s.logger.Info("Workflow deleted", "workflowID", workflowID, "userID", userID)
	return nil
}

func (s *WorkflowService) readable(conn *gorm.DB, userID string) *gorm.DB {
	return conn.Model(&db.Workflow{}).
		Where("owner_id = ? OR project_id = ?", userID, db.PersonalProjectID(userID))
}

func (s *WorkflowService) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
