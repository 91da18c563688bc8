package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/choraleia/chathub/pkg/conversation"
	"github.com/choraleia/chathub/pkg/engine"
	"github.com/choraleia/chathub/pkg/event"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/stream"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/choraleia/chathub/pkg/workflow"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
	"gorm.io/gorm"
)

const (
	msgExecutionStart   = "There was a problem starting the chat execution."
	msgExecutionRuntime = "There was a problem executing the chat workflow."
	msgNoResponse       = "Failed to generate a response"
)

// ChatHubOptions tune the chat hub.
type ChatHubOptions struct {
	// ContextWindowLength is the number of past exchanges the agent sees.
	ContextWindowLength int
	// TitleTimeout bounds a background title generation run.
	TitleTimeout time.Duration
}

// ChatHubService runs chat turns: it persists the conversation, builds the
// graph that answers a turn, executes it and relays the streamed reply.
type ChatHubService struct {
	db          *gorm.DB
	engine      engine.Engine
	credentials *CredentialsService
	workflows   *WorkflowService
	agents      *AgentService
	emitter     *event.Emitter
	options     ChatHubOptions
	background  *conc.WaitGroup
	logger      *slog.Logger
}

// NewChatHubService creates the chat hub orchestrator.
func NewChatHubService(
	database *gorm.DB,
	eng engine.Engine,
	credentials *CredentialsService,
	workflows *WorkflowService,
	agents *AgentService,
	emitter *event.Emitter,
	options ChatHubOptions,
) *ChatHubService {
	if options.TitleTimeout <= 0 {
		options.TitleTimeout = time.Minute
	}
	return &ChatHubService{
		db:          database,
		engine:      eng,
		credentials: credentials,
		workflows:   workflows,
		agents:      agents,
		emitter:     emitter,
		options:     options,
		background:  conc.NewWaitGroup(),
		logger:      utils.GetLogger(),
	}
}

// Shutdown waits for background title generation to finish.
func (s *ChatHubService) Shutdown() {
	s.background.Wait()
}

// chatTurn is a graph ready to execute.
type chatTurn struct {
	graph *workflow.Graph
	seed  *workflow.RunExecutionData
	// transient graphs are deleted once the execution is over.
	transient bool
}

// ========== Turns ==========

// SendHumanMessage stores a human message and streams the reply to w.
func (s *ChatHubService) SendHumanMessage(ctx context.Context, user models.User, req *models.SendMessageRequest, w http.ResponseWriter) error {
	model, err := req.Model.Parse()
	if err != nil {
		return badRequest("%s", err.Error())
	}
	selected := models.SelectModel(model, req.Credentials)

	var turn *chatTurn
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.getChatSession(ctx, tx, user, req.SessionID, &selected, true)
		if err != nil {
			return err
		}
		if err := s.ensurePreviousMessage(tx, session.ID, req.PreviousMessageID); err != nil {
			return err
		}
		messages, err := s.loadMessages(tx, session.ID)
		if err != nil {
			return err
		}
		history := conversation.ResolveHistory(messages, req.PreviousMessageID)

		err = s.saveHumanMessage(tx, user, session.ID, req.MessageID, req.Message, req.PreviousMessageID, nil, selected)
		if err != nil {
			return err
		}
		turn, err = s.prepareTurn(ctx, tx, user, session.ID, model, req.Credentials, history, req.Message)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.executeTurn(ctx, w, user, req.SessionID, turn, req.MessageID, nil, selected); err != nil {
		return err
	}

	if req.PreviousMessageID == nil {
		s.startTitleGeneration(user, req.SessionID, req.Message, req.Credentials, model)
	}
	return nil
}

// EditMessage changes a message. AI messages are edited in place; a human
// message gets a new revision and the turn is answered again, streamed to w.
func (s *ChatHubService) EditMessage(ctx context.Context, user models.User, req *models.EditMessageRequest, w http.ResponseWriter) error {
	model, err := req.Model.Parse()
	if err != nil {
		return badRequest("%s", err.Error())
	}
	selected := models.SelectModel(model, req.Credentials)

	var turn *chatTurn
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.getChatSession(ctx, tx, user, req.SessionID, &selected, true)
		if err != nil {
			return err
		}
		original, err := s.getChatMessage(tx, session.ID, req.EditID)
		if err != nil {
			return err
		}

		switch original.Type {
		case models.MessageTypeAI:
			err := tx.Model(&models.ChatHubMessage{}).Where("id = ?", original.ID).Update("content", req.Message).Error
			return errors.Wrap(err, "edit AI message")
		case models.MessageTypeHuman:
		default:
			return badRequest("Only human and AI messages can be edited")
		}

		messages, err := s.loadMessages(tx, session.ID)
		if err != nil {
			return err
		}
		history := conversation.ResolveHistory(messages, original.PreviousMessageID)

		revisionOf := original.ID
		if original.RevisionOfMessageID != nil {
			revisionOf = *original.RevisionOfMessageID
		}
		err = s.saveHumanMessage(tx, user, session.ID, req.MessageID, req.Message, original.PreviousMessageID, &revisionOf, selected)
		if err != nil {
			return err
		}
		turn, err = s.prepareTurn(ctx, tx, user, session.ID, model, req.Credentials, history, req.Message)
		return err
	})
	if err != nil || turn == nil {
		return err
	}

	return s.executeTurn(ctx, w, user, req.SessionID, turn, req.MessageID, nil, selected)
}

// RegenerateAIMessage answers the human message behind an AI message again
// and streams the new attempt to w.
func (s *ChatHubService) RegenerateAIMessage(ctx context.Context, user models.User, req *models.RegenerateMessageRequest, w http.ResponseWriter) error {
	model, err := req.Model.Parse()
	if err != nil {
		return badRequest("%s", err.Error())
	}
	selected := models.SelectModel(model, req.Credentials)

	var (
		turn      *chatTurn
		lastHuman *models.ChatHubMessage
		retryOf   string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.getChatSession(ctx, tx, user, req.SessionID, nil, false)
		if err != nil {
			return err
		}
		retried, err := s.getChatMessage(tx, session.ID, req.RetryID)
		if err != nil {
			return err
		}
		if retried.Type != models.MessageTypeAI {
			return badRequest("Can only retry AI messages")
		}

		messages, err := s.loadMessages(tx, session.ID)
		if err != nil {
			return err
		}
		history := conversation.ResolveHistory(messages, retried.PreviousMessageID)
		idx := conversation.LastOfType(history, models.MessageTypeHuman)
		if idx < 0 {
			return badRequest("No human message found to base the retry on")
		}
		lastHuman = history[idx]

		retryOf = retried.ID
		if retried.RetryOfMessageID != nil {
			retryOf = *retried.RetryOfMessageID
		}
		// Everything after the replayed human message is dropped from memory.
		turn, err = s.prepareTurn(ctx, tx, user, session.ID, model, req.Credentials, history[:idx+1], lastHuman.Content)
		return err
	})
	if err != nil {
		return err
	}

	return s.executeTurn(ctx, w, user, req.SessionID, turn, lastHuman.ID, &retryOf, selected)
}

// StopGeneration cancels the execution producing a running AI message.
func (s *ChatHubService) StopGeneration(ctx context.Context, user models.User, sessionID, messageID string) error {
	conn := s.db.WithContext(ctx)
	session, err := s.getChatSession(ctx, conn, user, sessionID, nil, false)
	if err != nil {
		return err
	}
	msg, err := s.getChatMessage(conn, session.ID, messageID)
	if err != nil {
		return err
	}
	if msg.Type != models.MessageTypeAI {
		return badRequest("Can only stop AI messages")
	}
	if msg.ExecutionID == nil || *msg.ExecutionID == "" {
		return badRequest("Message is not associated with a workflow execution")
	}
	if msg.Status != models.MessageStatusRunning {
		return badRequest("Can only stop messages that are currently running")
	}

	if err := s.engine.Cancel(*msg.ExecutionID); err != nil {
		if !errors.Is(err, engine.ErrExecutionNotFound) {
			return errors.Wrap(err, "cancel execution")
		}
		s.logger.Warn("Execution already finished, marking message cancelled", "executionID", *msg.ExecutionID, "messageID", msg.ID)
	}

	err = conn.Model(&models.ChatHubMessage{}).Where("id = ?", msg.ID).Update("status", models.MessageStatusCancelled).Error
	if err != nil {
		return errors.Wrap(err, "mark message cancelled")
	}
	s.emit(event.MessageStatusChangedEvent{UserID: user.ID, SessionID: session.ID, MessageID: msg.ID, Status: models.MessageStatusCancelled})
	return nil
}

// ========== Turn preparation ==========

func (s *ChatHubService) prepareTurn(
	ctx context.Context,
	tx *gorm.DB,
	user models.User,
	sessionID string,
	model models.ConversationModel,
	creds models.Credentials,
	history []*models.ChatHubMessage,
	message string,
) (*chatTurn, error) {
	switch m := model.(type) {
	case models.N8nWorkflowModel:
		return s.prepareWorkflowTurn(ctx, tx, user, sessionID, m.WorkflowID, message)
	case models.CustomAgentModel:
		return s.prepareAgentTurn(ctx, tx, user, sessionID, m.AgentID, history, message)
	case models.LLMModel:
		return s.prepareBaseTurn(ctx, tx, user, sessionID, m, creds, history, message, "")
	default:
		return nil, badRequest("Invalid model")
	}
}

// prepareBaseTurn builds and saves the transient graph for an LLM turn.
func (s *ChatHubService) prepareBaseTurn(
	ctx context.Context,
	tx *gorm.DB,
	user models.User,
	sessionID string,
	model models.LLMModel,
	creds models.Credentials,
	history []*models.ChatHubMessage,
	message string,
	systemMessage string,
) (*chatTurn, error) {
	cred, err := s.credentials.EnsureCredentials(ctx, tx, user.ID, model.Provider(), creds)
	if err != nil {
		return nil, err
	}

	g, seed, err := workflow.BuildChat(workflow.ChatParams{
		UserID:              user.ID,
		SessionID:           sessionID,
		History:             history,
		HumanMessage:        message,
		Credentials:         models.CredentialsFor(model.Provider(), cred.ID),
		Model:               model,
		SystemMessage:       systemMessage,
		ContextWindowLength: s.options.ContextWindowLength,
	})
	if errors.Is(err, workflow.ErrNoModelNode) {
		return nil, invalidConfiguration("%s", err.Error())
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.workflows.Save(ctx, tx, user.ID, cred.ProjectID, g, true); err != nil {
		return nil, err
	}
	return &chatTurn{graph: g, seed: seed, transient: true}, nil
}

// prepareAgentTurn answers with a saved agent's model and system prompt.
func (s *ChatHubService) prepareAgentTurn(
	ctx context.Context,
	tx *gorm.DB,
	user models.User,
	sessionID, agentID string,
	history []*models.ChatHubMessage,
	message string,
) (*chatTurn, error) {
	agent, err := s.agents.Get(ctx, tx, user.ID, agentID)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("Agent not found")
	}
	if err != nil {
		return nil, err
	}
	if agent.Provider == "" || agent.Model == nil || *agent.Model == "" {
		return nil, invalidConfiguration("Provider or model not set for agent")
	}
	model, err := models.NewLLMModel(agent.Provider, *agent.Model)
	if err != nil {
		return nil, invalidConfiguration("Invalid provider")
	}
	if agent.CredentialID == nil || *agent.CredentialID == "" {
		return nil, invalidConfiguration("Credentials not set for agent")
	}

	creds := models.CredentialsFor(agent.Provider, *agent.CredentialID)
	return s.prepareBaseTurn(ctx, tx, user, sessionID, model, creds, history, message, agent.SystemPrompt)
}

// prepareWorkflowTurn runs a stored workflow that has its own chat trigger.
// The workflow keeps its own memory, so history is not restored.
func (s *ChatHubService) prepareWorkflowTurn(ctx context.Context, tx *gorm.DB, user models.User, sessionID, workflowID, message string) (*chatTurn, error) {
	wf, err := s.workflows.FindReadableByID(ctx, tx, user.ID, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, notFound("Workflow not found")
	}
	triggers := wf.Graph.NodesOfType(workflow.NodeTypeChatTrigger)
	if len(triggers) != 1 {
		return nil, invalidConfiguration("Workflow must have exactly one chat trigger")
	}
	if len(wf.Graph.NodesOfType(workflow.NodeTypeRespondToChat)) > 0 {
		return nil, invalidConfiguration("Respond to Chat nodes are not supported in custom agent workflows")
	}

	seed := workflow.SeedForTrigger(triggers[0], sessionID, message, user.ID)
	return &chatTurn{graph: wf.Graph, seed: seed}, nil
}

// ========== Execution ==========

func (s *ChatHubService) executeTurn(
	ctx context.Context,
	w http.ResponseWriter,
	user models.User,
	sessionID string,
	turn *chatTurn,
	previousMessageID string,
	retryOf *string,
	selected models.SelectedModel,
) error {
	if turn.transient {
		defer s.deleteWorkflow(turn.graph.ID)
	}
	return s.executeChatWorkflow(ctx, w, user, sessionID, turn, previousMessageID, retryOf, selected)
}

// executeChatWorkflow streams one execution to w. Once the stream has
// started, failures are recorded on the AI messages instead of returned.
func (s *ChatHubService) executeChatWorkflow(
	ctx context.Context,
	w http.ResponseWriter,
	user models.User,
	sessionID string,
	turn *chatTurn,
	previousMessageID string,
	retryOf *string,
	selected models.SelectedModel,
) error {
	var (
		execMu      sync.Mutex
		executionID string
	)
	currentExecution := func() *string {
		execMu.Lock()
		defer execMu.Unlock()
		if executionID == "" {
			return nil
		}
		id := executionID
		return &id
	}

	agg := stream.NewAggregator(&previousMessageID, retryOf, stream.Hooks{
		OnBegin: func(m stream.Message) error {
			return s.saveAIMessage(sessionID, m, currentExecution(), selected)
		},
		OnEnd: func(m stream.Message) error {
			return s.finishAIMessage(user.ID, sessionID, m)
		},
		OnError: func(m stream.Message, _ string) error {
			return s.failAIMessage(user.ID, sessionID, m)
		},
	})
	sink := stream.NewWriter(w, agg)
	defer agg.FinalizeAll()
	defer func() {
		if err := sink.Close(); err != nil {
			s.logger.Warn("Failed to flush chat stream", "sessionID", sessionID, "error", err)
		}
	}()

	started, err := s.engine.Execute(ctx, turn.graph, turn.seed, user.ID, sink)
	if err == nil && (started == nil || started.ExecutionID == "") {
		err = errors.New("engine returned no execution id")
	}
	if err != nil {
		s.logger.Error("Failed to start chat execution", "sessionID", sessionID, "workflow", turn.graph.Name, "error", err)
		if !sink.Started() {
			return newError(ErrExecutionStart, msgExecutionStart)
		}
		return nil
	}
	sink.Start()

	execMu.Lock()
	executionID = started.ExecutionID
	execMu.Unlock()
	s.recordExecution(agg, started.ExecutionID)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Client went away.
			agg.MarkCancelled()
			if err := s.engine.Cancel(started.ExecutionID); err != nil && !errors.Is(err, engine.ErrExecutionNotFound) {
				s.logger.Warn("Failed to cancel execution", "executionID", started.ExecutionID, "error", err)
			}
		case <-done:
		}
	}()

	result, err := s.engine.AwaitResult(context.WithoutCancel(ctx), started.ExecutionID)
	switch {
	case errors.Is(err, engine.ErrCancelled):
		agg.MarkCancelled()
		return nil
	case result == nil:
		s.logger.Error(msgExecutionRuntime, "executionID", started.ExecutionID, "error", err)
		s.reportRunError(sink, agg, started.ExecutionID, msgExecutionRuntime)
		return nil
	case err != nil || result.Status == engine.StatusError:
		errText := msgNoResponse
		if result.Data != nil && result.Data.ResultData.Error != "" {
			errText = result.Data.ResultData.Error
		}
		s.logger.Error("Error during chat workflow execution", "executionID", started.ExecutionID, "error", errText)
		s.reportRunError(sink, agg, started.ExecutionID, errText)
		return nil
	}
	return nil
}

// recordExecution stores the execution id on messages opened before it was
// known.
func (s *ChatHubService) recordExecution(agg *stream.Aggregator, executionID string) {
	for _, m := range agg.Messages() {
		err := s.db.Model(&models.ChatHubMessage{}).
			Where("id = ? AND execution_id IS NULL", m.ID).
			Update("execution_id", executionID).Error
		if err != nil {
			s.logger.Error("Failed to record execution id", "messageID", m.ID, "executionID", executionID, "error", err)
		}
	}
}

// reportRunError surfaces a failed run as an error chunk when no message
// was produced, so the client and the history both show it.
func (s *ChatHubService) reportRunError(sink *stream.Writer, agg *stream.Aggregator, executionID, errText string) {
	if len(agg.Messages()) > 0 {
		return
	}
	line, err := json.Marshal(stream.StructuredChunk{
		Type:    stream.ChunkError,
		Content: errText,
		Metadata: stream.Metadata{
			NodeID:    executionID,
			Timestamp: time.Now().UnixMilli(),
		},
	})
	if err != nil {
		return
	}
	if _, err := sink.Write(append(line, '\n')); err != nil {
		s.logger.Warn("Failed to write error chunk", "executionID", executionID, "error", err)
	}
}

func (s *ChatHubService) deleteWorkflow(workflowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.workflows.Delete(ctx, workflowID); err != nil {
		s.logger.Error("Failed to delete transient workflow", "workflowID", workflowID, "error", err)
	}
}

// ========== Title generation ==========

func (s *ChatHubService) startTitleGeneration(user models.User, sessionID, message string, creds models.Credentials, model models.ConversationModel) {
	s.background.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.options.TitleTimeout)
		defer cancel()
		if err := s.generateSessionTitle(ctx, user, sessionID, message, creds, model); err != nil {
			s.logger.Error("Failed to generate session title", "sessionID", sessionID, "error", err)
		}
	})
}

// generateSessionTitle asks the turn's model for a short title and stores
// it. An empty answer leaves the title unchanged.
func (s *ChatHubService) generateSessionTitle(ctx context.Context, user models.User, sessionID, message string, creds models.Credentials, model models.ConversationModel) error {
	var turn *chatTurn
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		llm, cred, err := s.resolveTitleModel(ctx, tx, user, model, creds)
		if err != nil {
			return err
		}
		g, seed, err := workflow.BuildTitle(workflow.TitleParams{
			UserID:       user.ID,
			SessionID:    sessionID,
			HumanMessage: message,
			Credentials:  models.CredentialsFor(llm.Provider(), cred.ID),
			Model:        llm,
		})
		if err != nil {
			return err
		}
		if _, err := s.workflows.Save(ctx, tx, user.ID, cred.ProjectID, g, true); err != nil {
			return err
		}
		turn = &chatTurn{graph: g, seed: seed, transient: true}
		return nil
	})
	if err != nil {
		return err
	}
	defer s.deleteWorkflow(turn.graph.ID)

	started, err := s.engine.Execute(ctx, turn.graph, turn.seed, user.ID, nil)
	if err != nil {
		return errors.Wrap(err, "start title generation")
	}
	result, err := s.engine.AwaitResult(ctx, started.ExecutionID)
	if errors.Is(err, engine.ErrCancelled) {
		return nil
	}
	if result == nil || result.Status != engine.StatusSuccess {
		errText := msgNoResponse
		if result != nil && result.Data != nil && result.Data.ResultData.Error != "" {
			errText = result.Data.ResultData.Error
		}
		return newError(ErrExecutionRuntime, "%s", errText)
	}

	title, _ := result.Output(workflow.NodeNameTitleGeneratorAgent)
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	if err := s.UpdateSessionTitle(ctx, user.ID, sessionID, title); err != nil {
		return err
	}
	s.emit(event.SessionTitleUpdatedEvent{UserID: user.ID, SessionID: sessionID, Title: title})
	return nil
}

// resolveTitleModel picks the LLM that names a session: the turn's own
// model, the agent's model, or the first model node of a workflow.
func (s *ChatHubService) resolveTitleModel(ctx context.Context, tx *gorm.DB, user models.User, model models.ConversationModel, creds models.Credentials) (models.LLMModel, *CredentialWithProject, error) {
	switch m := model.(type) {
	case models.N8nWorkflowModel:
		return s.resolveFromWorkflow(ctx, tx, user, m.WorkflowID)
	case models.CustomAgentModel:
		return s.resolveFromAgent(ctx, tx, user, m.AgentID)
	case models.LLMModel:
		cred, err := s.credentials.EnsureCredentials(ctx, tx, user.ID, m.Provider(), creds)
		return m, cred, err
	default:
		return nil, nil, badRequest("Invalid model")
	}
}

func (s *ChatHubService) resolveFromWorkflow(ctx context.Context, tx *gorm.DB, user models.User, workflowID string) (models.LLMModel, *CredentialWithProject, error) {
	wf, err := s.workflows.FindReadableByID(ctx, tx, user.ID, workflowID)
	if err != nil {
		return nil, nil, err
	}
	if wf == nil {
		return nil, nil, notFound("Workflow not found for title generation")
	}

	var (
		modelNode workflow.Node
		provider  string
		found     bool
	)
	for _, n := range wf.Graph.Nodes {
		if p, ok := workflow.ProviderForNodeType(n.Type); ok && !n.Disabled {
			modelNode, provider, found = n, p, true
			break
		}
	}
	if !found {
		return nil, nil, invalidConfiguration("No supported Model nodes found in workflow for title generation")
	}

	name, ok := modelNode.StringParam("model", "value")
	if !ok {
		name, _ = modelNode.StringParam("model")
	}
	if name == "" {
		return nil, nil, invalidConfiguration("No model set on Model node %q for title generation", modelNode.Name)
	}
	llm, err := models.NewLLMModel(provider, name)
	if err != nil || workflow.IsExpression(name) {
		return nil, nil, invalidConfiguration("Invalid model set on Model node %q for title generation", modelNode.Name)
	}
	credentialID := modelNode.Credentials[models.ProviderCredentialTypes[provider]].ID
	if credentialID == "" {
		return nil, nil, invalidConfiguration("No credentials found on Model node %q for title generation", modelNode.Name)
	}

	cred, err := s.credentials.EnsureCredentialByID(ctx, tx, user.ID, credentialID)
	return llm, cred, err
}

func (s *ChatHubService) resolveFromAgent(ctx context.Context, tx *gorm.DB, user models.User, agentID string) (models.LLMModel, *CredentialWithProject, error) {
	agent, err := s.agents.Get(ctx, tx, user.ID, agentID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, notFound("Agent not found for title generation")
	}
	if err != nil {
		return nil, nil, err
	}
	var modelName string
	if agent.Model != nil {
		modelName = *agent.Model
	}
	llm, err := models.NewLLMModel(agent.Provider, modelName)
	if err != nil {
		return nil, nil, invalidConfiguration("Invalid provider for title generation")
	}
	if agent.CredentialID == nil || *agent.CredentialID == "" {
		return nil, nil, invalidConfiguration("Credentials not set for agent")
	}

	cred, err := s.credentials.EnsureCredentialByID(ctx, tx, user.ID, *agent.CredentialID)
	return llm, cred, err
}

// ========== Message persistence ==========

func (s *ChatHubService) saveHumanMessage(
	tx *gorm.DB,
	user models.User,
	sessionID, messageID, content string,
	previousMessageID, revisionOf *string,
	selected models.SelectedModel,
) error {
	msg := models.ChatHubMessage{
		ID:                  messageID,
		SessionID:           sessionID,
		Type:                models.MessageTypeHuman,
		Name:                user.DisplayName(),
		Content:             content,
		Status:              models.MessageStatusSuccess,
		PreviousMessageID:   previousMessageID,
		RevisionOfMessageID: revisionOf,
	}
	applySelection(&msg, selected)
	if err := tx.Create(&msg).Error; err != nil {
		return errors.Wrap(err, "save human message")
	}
	return s.touchSession(tx, sessionID)
}

func (s *ChatHubService) saveAIMessage(sessionID string, m stream.Message, executionID *string, selected models.SelectedModel) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		msg := models.ChatHubMessage{
			ID:                m.ID,
			SessionID:         sessionID,
			Type:              models.MessageTypeAI,
			Name:              "AI",
			Content:           m.Content,
			Status:            m.Status,
			PreviousMessageID: m.PreviousMessageID,
			RetryOfMessageID:  m.RetryOfMessageID,
			ExecutionID:       executionID,
		}
		applySelection(&msg, selected)
		if err := tx.Create(&msg).Error; err != nil {
			return errors.Wrap(err, "save AI message")
		}
		return s.touchSession(tx, sessionID)
	})
}

func (s *ChatHubService) finishAIMessage(userID, sessionID string, m stream.Message) error {
	err := s.db.Model(&models.ChatHubMessage{}).
		Where("id = ? AND session_id = ?", m.ID, sessionID).
		Updates(map[string]any{"content": m.Content, "status": m.Status}).Error
	if err != nil {
		return errors.Wrap(err, "finish AI message")
	}
	s.emit(event.MessageStatusChangedEvent{UserID: userID, SessionID: sessionID, MessageID: m.ID, Status: m.Status})
	return nil
}

// failAIMessage records a failed message unless it was cancelled in the
// meantime.
func (s *ChatHubService) failAIMessage(userID, sessionID string, m stream.Message) error {
	var status string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ChatHubMessage{}).
			Where("id = ? AND session_id = ?", m.ID, sessionID).
			Update("content", m.Content).Error; err != nil {
			return errors.Wrap(err, "update AI message content")
		}

		var saved models.ChatHubMessage
		if err := tx.Where("id = ? AND session_id = ?", m.ID, sessionID).First(&saved).Error; err != nil {
			return errors.Wrap(err, "reload AI message")
		}
		if saved.Status == models.MessageStatusCancelled {
			return nil
		}
		status = models.MessageStatusError
		return errors.Wrap(tx.Model(&saved).Update("status", status).Error, "mark AI message failed")
	})
	if err != nil {
		return err
	}
	if status != "" {
		s.emit(event.MessageStatusChangedEvent{UserID: userID, SessionID: sessionID, MessageID: m.ID, Status: status})
	}
	return nil
}

func applySelection(msg *models.ChatHubMessage, selected models.SelectedModel) {
	provider := selected.Provider
	msg.Provider = &provider
	msg.Model = selected.Model
	msg.WorkflowID = selected.WorkflowID
	msg.AgentID = selected.AgentID
	msg.CredentialID = selected.CredentialID
}

func (s *ChatHubService) touchSession(tx *gorm.DB, sessionID string) error {
	err := tx.Model(&models.ChatHubSession{}).Where("id = ?", sessionID).Update("last_message_at", time.Now()).Error
	return errors.Wrap(err, "update session last message time")
}

func (s *ChatHubService) ensurePreviousMessage(tx *gorm.DB, sessionID string, previousMessageID *string) error {
	if previousMessageID == nil {
		return nil
	}
	var count int64
	err := tx.Model(&models.ChatHubMessage{}).
		Where("id = ? AND session_id = ?", *previousMessageID, sessionID).
		Count(&count).Error
	if err != nil {
		return errors.Wrap(err, "find previous message")
	}
	if count == 0 {
		return badRequest("The previous message does not exist in the session")
	}
	return nil
}

func (s *ChatHubService) getChatMessage(tx *gorm.DB, sessionID, messageID string) (*models.ChatHubMessage, error) {
	var msg models.ChatHubMessage
	err := tx.Where("id = ? AND session_id = ?", messageID, sessionID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Chat message not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get chat message")
	}
	return &msg, nil
}

func (s *ChatHubService) loadMessages(tx *gorm.DB, sessionID string) (map[string]*models.ChatHubMessage, error) {
	var rows []models.ChatHubMessage
	if err := tx.Where("session_id = ?", sessionID).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load session messages")
	}
	return conversation.ByID(rows), nil
}

// ========== Sessions ==========

// getChatSession returns the user's session. With initialize it creates the
// session on first use from the selected model.
func (s *ChatHubService) getChatSession(ctx context.Context, tx *gorm.DB, user models.User, sessionID string, selected *models.SelectedModel, initialize bool) (*models.ChatHubSession, error) {
	var session models.ChatHubSession
	err := tx.Where("id = ?", sessionID).First(&session).Error
	switch {
	case err == nil:
		if session.OwnerID != user.ID {
			return nil, notFound("Chat session not found")
		}
		return &session, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, errors.Wrap(err, "get chat session")
	case !initialize || selected == nil:
		return nil, notFound("Chat session not found")
	}

	var agentName *string
	switch selected.Provider {
	case models.ProviderCustomAgent:
		agent, err := s.agents.Get(ctx, tx, user.ID, deref(selected.AgentID))
		if errors.Is(err, ErrNotFound) {
			return nil, notFound("Agent not found for chat session initialization")
		}
		if err != nil {
			return nil, err
		}
		agentName = &agent.Name
	case models.ProviderN8n:
		name, err := s.workflowAgentName(ctx, tx, user, deref(selected.WorkflowID), "for chat session initialization")
		if err != nil {
			return nil, err
		}
		agentName = &name
	}

	provider := selected.Provider
	session = models.ChatHubSession{
		ID:           sessionID,
		OwnerID:      user.ID,
		Title:        models.DefaultSessionTitle,
		Provider:     &provider,
		Model:        selected.Model,
		CredentialID: selected.CredentialID,
		WorkflowID:   selected.WorkflowID,
		AgentID:      selected.AgentID,
		AgentName:    agentName,
	}
	if err := tx.Create(&session).Error; err != nil {
		return nil, errors.Wrap(err, "create chat session")
	}
	s.logger.Info("Chat session created", "sessionID", sessionID, "userID", user.ID, "provider", provider)
	return &session, nil
}

// workflowAgentName is the chat trigger's agentName, or the workflow name.
func (s *ChatHubService) workflowAgentName(ctx context.Context, tx *gorm.DB, user models.User, workflowID, purpose string) (string, error) {
	wf, err := s.workflows.FindReadableByID(ctx, tx, user.ID, workflowID)
	if err != nil {
		return "", err
	}
	if wf == nil {
		return "", notFound("Workflow not found %s", purpose)
	}
	triggers := wf.Graph.NodesOfType(workflow.NodeTypeChatTrigger)
	if len(triggers) == 0 {
		return "", invalidConfiguration("Chat trigger not found in workflow %s", purpose)
	}
	if name, _ := triggers[0].StringParam("agentName"); name != "" {
		return name, nil
	}
	return wf.Entity.Name, nil
}

// GetConversations lists the user's sessions, most recently active first.
func (s *ChatHubService) GetConversations(ctx context.Context, userID string) ([]models.ChatHubSession, error) {
	var sessions []models.ChatHubSession
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Order("last_message_at DESC").
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, errors.Wrap(err, "list chat sessions")
}

// GetGroupedConversations buckets the user's sessions by last activity.
func (s *ChatHubService) GetGroupedConversations(ctx context.Context, userID string, now time.Time) ([]models.GroupedConversations, error) {
	sessions, err := s.GetConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	return conversation.GroupByDate(sessions, now), nil
}

// GetConversation returns a session with all of its messages.
func (s *ChatHubService) GetConversation(ctx context.Context, userID, sessionID string) (*models.ConversationResponse, error) {
	conn := s.db.WithContext(ctx)
	session, err := s.getChatSession(ctx, conn, models.User{ID: userID}, sessionID, nil, false)
	if err != nil {
		return nil, err
	}
	messages, err := s.loadMessages(conn, session.ID)
	if err != nil {
		return nil, err
	}
	resp := &models.ConversationResponse{Session: session}
	resp.Conversation.Messages = messages
	return resp, nil
}

// GetActiveChain returns the branch to display, root first. pointerID pins
// the branch to a message; nil shows the newest branch.
func (s *ChatHubService) GetActiveChain(ctx context.Context, userID, sessionID string, pointerID *string) ([]*models.ChatHubMessage, error) {
	conv, err := s.GetConversation(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	messages := conv.Conversation.Messages
	return conversation.ActiveChain(messages, conversation.ChildrenIndex(messages), pointerID), nil
}

// UpdateSession patches a session. Selecting a provider clears the fields
// that belong to other providers.
func (s *ChatHubService) UpdateSession(ctx context.Context, user models.User, sessionID string, req *models.UpdateSessionRequest) (*models.ChatHubSession, error) {
	var updated models.ChatHubSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.ChatHubSession
		err := tx.Where("id = ? AND owner_id = ?", sessionID, user.ID).First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("Session not found")
		}
		if err != nil {
			return errors.Wrap(err, "get chat session")
		}

		updates := map[string]any{}
		if req.Title != nil {
			updates["title"] = *req.Title
		}
		if req.WorkflowID != nil && *req.WorkflowID != "" {
			wf, err := s.workflows.FindReadableByID(ctx, tx, user.ID, *req.WorkflowID)
			if err != nil {
				return err
			}
			if wf == nil {
				return notFound("Workflow not found")
			}
			triggers := wf.Graph.NodesOfType(workflow.NodeTypeChatTrigger)
			if len(triggers) != 1 {
				return invalidConfiguration("Workflow must have exactly one chat trigger")
			}
			name, _ := triggers[0].StringParam("agentName")
			if name == "" {
				name = wf.Entity.Name
			}
			updates["workflow_id"] = *req.WorkflowID
			updates["agent_name"] = name
		}
		if req.AgentID != nil && *req.AgentID != "" {
			agent, err := s.agents.Get(ctx, tx, user.ID, *req.AgentID)
			if errors.Is(err, ErrNotFound) {
				return notFound("Agent not found")
			}
			if err != nil {
				return err
			}
			updates["agent_id"] = *req.AgentID
			updates["agent_name"] = agent.Name
		}
		if req.Model != nil {
			updates["model"] = *req.Model
		}
		if req.CredentialID != nil {
			updates["credential_id"] = *req.CredentialID
		}

		if req.Provider != nil {
			provider := *req.Provider
			switch provider {
			case models.ProviderN8n:
				updates["model"] = nil
				updates["credential_id"] = nil
				updates["agent_id"] = nil
			case models.ProviderCustomAgent:
				updates["model"] = nil
				updates["credential_id"] = nil
				updates["workflow_id"] = nil
			case models.ProviderOpenAI, models.ProviderAnthropic, models.ProviderGoogle:
				updates["workflow_id"] = nil
				updates["agent_id"] = nil
				updates["agent_name"] = nil
			default:
				return badRequest("Invalid provider %q", provider)
			}
			updates["provider"] = provider
		}

		if len(updates) > 0 {
			if err := tx.Model(&session).Updates(updates).Error; err != nil {
				return errors.Wrap(err, "update chat session")
			}
		}
		return errors.Wrap(tx.Where("id = ?", sessionID).First(&updated).Error, "reload chat session")
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// UpdateSessionTitle renames a session.
func (s *ChatHubService) UpdateSessionTitle(ctx context.Context, userID, sessionID, title string) error {
	res := s.db.WithContext(ctx).Model(&models.ChatHubSession{}).
		Where("id = ? AND owner_id = ?", sessionID, userID).
		Update("title", title)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update session title")
	}
	if res.RowsAffected == 0 {
		return notFound("Session not found")
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (s *ChatHubService) DeleteSession(ctx context.Context, userID, sessionID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner_id = ?", sessionID, userID).Delete(&models.ChatHubSession{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete chat session")
		}
		if res.RowsAffected == 0 {
			return notFound("Session not found")
		}
		return errors.Wrap(tx.Where("session_id = ?", sessionID).Delete(&models.ChatHubMessage{}).Error, "delete session messages")
	})
	if err != nil {
		return err
	}
	s.logger.Info("Chat session deleted", "sessionID", sessionID, "userID", userID)
	s.emit(event.SessionDeletedEvent{UserID: userID, SessionID: sessionID})
	return nil
}

// DeleteAllSessions removes every session of the user.
func (s *ChatHubService) DeleteAllSessions(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned := tx.Session(&gorm.Session{NewDB: true}).Model(&models.ChatHubSession{}).
			Select("id").Where("owner_id = ?", userID)
		if err := tx.Where("session_id IN (?)", owned).Delete(&models.ChatHubMessage{}).Error; err != nil {
			return errors.Wrap(err, "delete session messages")
		}
		return errors.Wrap(tx.Where("owner_id = ?", userID).Delete(&models.ChatHubSession{}).Error, "delete chat sessions")
	})
	if err != nil {
		return err
	}
	s.logger.Info("All chat sessions deleted", "userID", userID)
	s.emit(event.SessionDeletedEvent{UserID: userID})
	return nil
}

func (s *ChatHubService) emit(ev event.Event) {
	if s.emitter != nil {
		s.emitter.Emit(ev)
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
