package service

import (
	"context"
	"testing"

	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/pkg/errors"
)

func TestCredentialsService_CreateAndList(t *testing.T) {
	svc := NewCredentialsService(newTestDB(t), utils.NewCipher("k"))
	ctx := context.Background()

	created, err := svc.Create(ctx, "alice", &models.CreateCredentialRequest{
		Name: "OpenAI",
		Type: db.CredentialTypeOpenAI,
		Data: map[string]string{"apiKey": "sk-abcdefghijkl", "url": "https://proxy.local/v1"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.APIKey != "sk-a*******ijkl" {
		t.Fatalf("masked key = %q", created.APIKey)
	}

	data, err := svc.Data(ctx, created.ID)
	if err != nil {
		t.Fatalf("Data() error = %v", err)
	}
	if data.APIKey != "sk-abcdefghijkl" || data.BaseURL != "https://proxy.local/v1" {
		t.Fatalf("Data() = %+v", data)
	}

	list, err := svc.List(ctx, "alice")
	if err != nil || len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("List() = %v, %v", list, err)
	}
	if list, _ := svc.List(ctx, "bob"); len(list) != 0 {
		t.Fatalf("bob sees %d credentials", len(list))
	}
}

func TestCredentialsService_CreateValidation(t *testing.T) {
	svc := NewCredentialsService(newTestDB(t), utils.NewCipher("k"))
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", &models.CreateCredentialRequest{Name: "x", Type: "slackApi", Data: map[string]string{"apiKey": "k"}})
	assertKind(t, err, ErrBadRequest, `Unsupported credential type "slackApi"`)

	_, err = svc.Create(ctx, "alice", &models.CreateCredentialRequest{Name: "x", Type: db.CredentialTypeGoogle, Data: map[string]string{}})
	assertKind(t, err, ErrBadRequest, "Credential data must contain an apiKey")
}

func TestCredentialsService_Sharing(t *testing.T) {
	conn := newTestDB(t)
	svc := NewCredentialsService(conn, utils.NewCipher("k"))
	ctx := context.Background()
	cred, err := svc.Create(ctx, "alice", &models.CreateCredentialRequest{
		Name: "Claude", Type: db.CredentialTypeAnthropic, Data: map[string]string{"apiKey": "sk-ant-123456789"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = svc.EnsureCredentialByID(ctx, nil, "bob", cred.ID)
	assertKind(t, err, ErrNotFound, "Credential not found")
	if ok, _ := svc.CheckReadAccess(ctx, nil, "bob", cred.ID); ok {
		t.Fatalf("bob can read before sharing")
	}

	assertKind(t, svc.Share(ctx, "bob", cred.ID, "carol"), ErrNotFound, "Credential not found")
	if err := svc.Share(ctx, "alice", cred.ID, "bob"); err != nil {
		t.Fatalf("Share() error = %v", err)
	}
	// Sharing twice keeps one link.
	if err := svc.Share(ctx, "alice", cred.ID, "bob"); err != nil {
		t.Fatalf("Share() again error = %v", err)
	}

	got, err := svc.EnsureCredentialByID(ctx, nil, "bob", cred.ID)
	if err != nil {
		t.Fatalf("EnsureCredentialByID() error = %v", err)
	}
	if got.ProjectID != db.PersonalProjectID("bob") {
		t.Fatalf("project = %q", got.ProjectID)
	}
	var links int64
	conn.Model(&db.CredentialLink{}).Where("credential_id = ?", cred.ID).Count(&links)
	if links != 2 {
		t.Fatalf("got %d links, want 2", links)
	}

	assertKind(t, svc.Delete(ctx, "bob", cred.ID), ErrNotFound, "Credential not found")
	if err := svc.Delete(ctx, "alice", cred.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	conn.Model(&db.CredentialLink{}).Where("credential_id = ?", cred.ID).Count(&links)
	if links != 0 {
		t.Fatalf("links left after delete: %d", links)
	}
}

func TestCredentialsService_EnsureCredentials(t *testing.T) {
	svc := NewCredentialsService(newTestDB(t), utils.NewCipher("k"))
	ctx := context.Background()

	_, err := svc.EnsureCredentials(ctx, nil, "alice", db.ProviderOpenAI, models.Credentials{})
	assertKind(t, err, ErrBadRequest, "No credentials provided for the selected model provider")

	_, err = svc.EnsureCredentials(ctx, nil, "alice", db.ProviderOpenAI, models.CredentialsFor(db.ProviderOpenAI, "missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestCredentialsService_WrongKeyCannotOpen(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	cred, err := NewCredentialsService(conn, utils.NewCipher("one")).Create(ctx, "alice", &models.CreateCredentialRequest{
		Name: "k", Type: db.CredentialTypeOpenAI, Data: map[string]string{"apiKey": "sk-123456789"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := NewCredentialsService(conn, utils.NewCipher("two")).Data(ctx, cred.ID); err == nil {
		t.Fatalf("Data() with another key succeeded")
	}
}
