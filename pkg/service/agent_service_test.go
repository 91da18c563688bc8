package service

import (
	"context"
	"testing"

	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/workflow"
)

func TestAgentService_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cred := env.credential(t, alice.ID, db.CredentialTypeOpenAI)

	_, err := env.agents.Create(ctx, alice.ID, &models.CreateAgentRequest{
		Name: "Bad", SystemPrompt: "x", CredentialID: cred, Provider: db.ProviderN8n, Model: "wf",
	})
	assertKind(t, err, ErrBadRequest, `Invalid provider "n8n"`)

	bobCred := env.credential(t, "bob", db.CredentialTypeOpenAI)
	_, err = env.agents.Create(ctx, alice.ID, &models.CreateAgentRequest{
		Name: "Stolen", SystemPrompt: "x", CredentialID: bobCred, Provider: db.ProviderOpenAI, Model: "gpt-4o",
	})
	assertKind(t, err, ErrNotFound, "Credential not found")

	agent, err := env.agents.Create(ctx, alice.ID, &models.CreateAgentRequest{
		Name: "Helper", SystemPrompt: "Be brief", CredentialID: cred, Provider: db.ProviderOpenAI, Model: "gpt-4o",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	name := "Terse helper"
	updated, err := env.agents.Update(ctx, alice.ID, agent.ID, &models.UpdateAgentRequest{Name: &name})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Name != name || updated.SystemPrompt != "Be brief" {
		t.Fatalf("updated agent = %+v", updated)
	}
	_, err = env.agents.Update(ctx, "bob", agent.ID, &models.UpdateAgentRequest{Name: &name})
	assertKind(t, err, ErrNotFound, "Chat agent not found")

	choices, err := env.agents.AgentsAsModels(ctx, alice.ID)
	if err != nil {
		t.Fatalf("AgentsAsModels() error = %v", err)
	}
	if len(choices.Models) != 1 || choices.Models[0].Name != name ||
		choices.Models[0].Model != (models.ConversationModelDTO{Provider: db.ProviderCustomAgent, AgentID: agent.ID}) {
		t.Fatalf("choices = %+v", choices)
	}

	assertKind(t, env.agents.Delete(ctx, "bob", agent.ID), ErrNotFound, "Chat agent not found")
	if err := env.agents.Delete(ctx, alice.ID, agent.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if list, _ := env.agents.List(ctx, alice.ID); len(list) != 0 {
		t.Fatalf("agents left: %d", len(list))
	}
}

func TestWorkflowService_Visibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.workflows.Create(ctx, alice.ID, "Empty", true, &workflow.Graph{})
	assertKind(t, err, ErrBadRequest, "Workflow must contain at least one node")

	wf, err := env.workflows.Create(ctx, alice.ID, "Support", false, chatWorkflow())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if wf.Active {
		t.Fatalf("inactive workflow stored as active")
	}
	transient := chatWorkflow()
	if _, err := env.workflows.Save(ctx, nil, alice.ID, db.PersonalProjectID(alice.ID), transient, true); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	list, err := env.workflows.List(ctx, alice.ID)
	if err != nil || len(list) != 1 || list[0].ID != wf.ID {
		t.Fatalf("List() = %v, %v", list, err)
	}
	if _, err := env.workflows.Get(ctx, alice.ID, transient.ID); err == nil {
		t.Fatalf("transient workflow is listed")
	}
	if found, _ := env.workflows.FindReadableByID(ctx, nil, "bob", wf.ID); found != nil {
		t.Fatalf("bob can read alice's workflow")
	}

	withTrigger, err := env.workflows.ListByNodeTypePresence(ctx, alice.ID, workflow.NodeTypeChatTrigger)
	if err != nil || len(withTrigger) != 1 {
		t.Fatalf("ListByNodeTypePresence() = %d, %v", len(withTrigger), err)
	}
	withRespond, _ := env.workflows.ListByNodeTypePresence(ctx, alice.ID, workflow.NodeTypeChatTrigger, workflow.NodeTypeRespondToChat)
	if len(withRespond) != 0 {
		t.Fatalf("workflow without respond node matched")
	}

	assertKind(t, env.workflows.DeleteOwned(ctx, "bob", wf.ID), ErrNotFound, "Workflow not found")
	if err := env.workflows.DeleteOwned(ctx, alice.ID, wf.ID); err != nil {
		t.Fatalf("DeleteOwned() error = %v", err)
	}
}
