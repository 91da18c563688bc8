package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/choraleia/chathub/pkg/db"
	"github.com/choraleia/chathub/pkg/models"
	"github.com/choraleia/chathub/pkg/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// CredentialWithProject is a credential the acting user may use, together
// with the project the use is billed to.
type CredentialWithProject struct {
	ID        string
	ProjectID string
}

// CredentialsService stores provider secrets encrypted and decides who may
// use them.
type CredentialsService struct {
	db     *gorm.DB
	cipher *utils.Cipher
	logger *slog.Logger
}

// NewCredentialsService creates a credentials service sealing data with cipher.
func NewCredentialsService(database *gorm.DB, cipher *utils.Cipher) *CredentialsService {
	return &CredentialsService{
		db:     database,
		cipher: cipher,
		logger: utils.GetLogger(),
	}
}

func isCredentialType(t string) bool {
	for _, known := range models.ProviderCredentialTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Create stores a new credential owned by userID and links it to the
// user's personal project.
func (s *CredentialsService) Create(ctx context.Context, userID string, req *models.CreateCredentialRequest) (*models.CredentialDTO, error) {
	if !isCredentialType(req.Type) {
		return nil, badRequest("Unsupported credential type %q", req.Type)
	}
	data := models.CredentialData{APIKey: req.Data["apiKey"], BaseURL: req.Data["url"]}
	if data.APIKey == "" {
		return nil, badRequest("Credential data must contain an apiKey")
	}
	sealed, err := s.seal(data)
	if err != nil {
		return nil, err
	}

	cred := db.Credential{
		ID:      uuid.New().String(),
		Name:    req.Name,
		Type:    req.Type,
		OwnerID: userID,
		Data:    sealed,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&cred).Error; err != nil {
			return errors.Wrap(err, "create credential")
		}
		link := db.CredentialLink{
			CredentialID: cred.ID,
			ProjectID:    db.PersonalProjectID(userID),
			Role:         db.CredentialRoleOwner,
		}
		return errors.Wrap(tx.Create(&link).Error, "link credential")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Credential created", "credentialID", cred.ID, "type", cred.Type, "userID", userID)
	dto := toCredentialDTO(&cred, data)
	return &dto, nil
}

// List returns the credentials userID can read, with masked keys.
func (s *CredentialsService) List(ctx context.Context, userID string) ([]models.CredentialDTO, error) {
	var creds []db.Credential
	err := s.readable(s.db.WithContext(ctx), userID).Order("created_at DESC").Find(&creds).Error
	if err != nil {
		return nil, errors.Wrap(err, "list credentials")
	}

	out := make([]models.CredentialDTO, 0, len(creds))
	for i := range creds {
		data, err := s.open(creds[i].Data)
		if err != nil {
			s.logger.Warn("Failed to decrypt credential", "credentialID", creds[i].ID, "error", err)
		}
		out = append(out, toCredentialDTO(&creds[i], data))
	}
	return out, nil
}

// Delete removes a credential owned by userID together with its links.
func (s *CredentialsService) Delete(ctx context.Context, userID, credentialID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND owner_id = ?", credentialID, userID).Delete(&db.Credential{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete credential")
		}
		if res.RowsAffected == 0 {
			return notFound("Credential not found")
		}
		if err := tx.Where("credential_id = ?", credentialID).Delete(&db.CredentialLink{}).Error; err != nil {
			return errors.Wrap(err, "delete credential links")
		}
		s.logger.Info("Credential deleted", "credentialID", credentialID, "userID", userID)
		return nil
	})
}

// Share grants the personal project of another user use of a credential
// owned by ownerID.
func (s *CredentialsService) Share(ctx context.Context, ownerID, credentialID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cred db.Credential
		err := tx.Where("id = ? AND owner_id = ?", credentialID, ownerID).First(&cred).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("Credential not found")
		}
		if err != nil {
			return errors.Wrap(err, "find credential")
		}
		link := db.CredentialLink{
			CredentialID: credentialID,
			ProjectID:    db.PersonalProjectID(userID),
			Role:         db.CredentialRoleUser,
		}
		return errors.Wrap(tx.Where(&db.CredentialLink{CredentialID: link.CredentialID, ProjectID: link.ProjectID}).
			FirstOrCreate(&link).Error, "share credential")
	})
}

// CheckReadAccess reports whether userID may use the credential. tx may be
// nil outside a transaction.
func (s *CredentialsService) CheckReadAccess(ctx context.Context, tx *gorm.DB, userID, credentialID string) (bool, error) {
	var count int64
	err := s.readable(s.conn(ctx, tx), userID).Where("id = ?", credentialID).Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "check credential access")
	}
	return count > 0, nil
}

// EnsureCredentials resolves the credential bound to provider in creds and
// checks that userID may use it.
func (s *CredentialsService) EnsureCredentials(ctx context.Context, tx *gorm.DB, userID, provider string, creds models.Credentials) (*CredentialWithProject, error) {
	credentialID := creds.CredentialIDFor(provider)
	if credentialID == "" {
		return nil, badRequest("No credentials provided for the selected model provider")
	}
	return s.EnsureCredentialByID(ctx, tx, userID, credentialID)
}

// EnsureCredentialByID checks that userID may use credentialID and links it
// to the user's personal project on first use by its owner.
func (s *CredentialsService) EnsureCredentialByID(ctx context.Context, tx *gorm.DB, userID, credentialID string) (*CredentialWithProject, error) {
	conn := s.conn(ctx, tx)
	projectID := db.PersonalProjectID(userID)

	var cred db.Credential
	err := conn.Where("id = ?", credentialID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Credential not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "find credential")
	}

	var link db.CredentialLink
	err = conn.Where("credential_id = ? AND project_id = ?", credentialID, projectID).First(&link).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		if cred.OwnerID != userID {
			return nil, notFound("Credential not found")
		}
		link = db.CredentialLink{CredentialID: credentialID, ProjectID: projectID, Role: db.CredentialRoleOwner}
		if err := conn.Create(&link).Error; err != nil {
			return nil, errors.Wrap(err, "link credential")
		}
	default:
		return nil, errors.Wrap(err, "find credential link")
	}

	return &CredentialWithProject{ID: credentialID, ProjectID: projectID}, nil
}

// Data returns the decrypted payload of a credential.
func (s *CredentialsService) Data(ctx context.Context, credentialID string) (*models.CredentialData, error) {
	var cred db.Credential
	err := s.db.WithContext(ctx).Where("id = ?", credentialID).First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Credential not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "find credential")
	}
	data, err := s.open(cred.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "decrypt credential %s", credentialID)
	}
	return &data, nil
}

// APIKey returns the decrypted API key of a credential.
func (s *CredentialsService) APIKey(ctx context.Context, credentialID string) (string, error) {
	data, err := s.Data(ctx, credentialID)
	if err != nil {
		return "", err
	}
	return data.APIKey, nil
}

// readable scopes a query to credentials owned by userID or linked to the
// user's personal project.
func (s *CredentialsService) readable(conn *gorm.DB, userID string) *gorm.DB {
	linked := conn.Session(&gorm.Session{NewDB: true}).Model(&db.CredentialLink{}).
		Select("credential_id").
		Where("project_id = ?", db.PersonalProjectID(userID))
	return conn.Model(&db.Credential{}).Where("owner_id = ? OR id IN (?)", userID, linked)
}

func (s *CredentialsService) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

func (s *CredentialsService) seal(data models.CredentialData) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", errors.Wrap(err, "encode credential data")
	}
	sealed, err := s.cipher.Encrypt(raw)
	return sealed, errors.Wrap(err, "encrypt credential data")
}

func (s *CredentialsService) open(sealed string) (models.CredentialData, error) {
	var data models.CredentialData
	raw, err := s.cipher.Decrypt(sealed)
	if err != nil {
		return data, err
	}
	err = json.Unmarshal(raw, &data)
	return data, err
}

func toCredentialDTO(c *db.Credential, data models.CredentialData) models.CredentialDTO {
	return models.CredentialDTO{
		ID:        c.ID,
		Name:      c.Name,
		Type:      c.Type,
		OwnerID:   c.OwnerID,
		APIKey:    utils.MaskSensitiveString(data.APIKey),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
