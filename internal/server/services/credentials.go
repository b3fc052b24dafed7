package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/dmitrijs2005/vaultcore/internal/strength"
	"github.com/dmitrijs2005/vaultcore/internal/vaultcipher"
)

// CredentialInput is a credential as supplied by the owner.
type CredentialInput struct {
	Website  string
	Username string
	Password string
	Notes    string
}

// Credential is a decrypted credential.
type Credential struct {
	ID            string
	Website       string
	Username      string
	Password      string
	Notes         string
	SecurityLevel models.SecurityLevel
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (in CredentialInput) validate() error {
	if strings.TrimSpace(in.Website) == "" || strings.TrimSpace(in.Username) == "" || in.Password == "" {
		return fmt.Errorf("%w: website, username and password are required", common.ErrInvalidInput)
	}
	return nil
}

// SecurityLevelOf classifies password into the stored security level.
func SecurityLevelOf(password string) models.SecurityLevel {
	switch strength.Classify(password).Level {
	case strength.Strong:
		return models.SecurityCalm
	case strength.Medium:
		return models.SecurityAlert
	default:
		return models.SecurityCritical
	}
}

func (s *VaultService) AddCredential(ctx context.Context, token string, in CredentialInput) (*Credential, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	s.rotation.RLock()
	defer s.rotation.RUnlock()

	c, sess, err := s.Cipher(ctx, token)
	if err != nil {
		return nil, err
	}

	row := &models.Credential{
		OwnerID:       sess.OwnerID,
		Website:       strings.TrimSpace(in.Website),
		Username:      in.Username,
		SecurityLevel: SecurityLevelOf(in.Password),
	}
	if err := s.seal(ctx, c, row, in); err != nil {
		return nil, err
	}

	row, err = s.repomanager.Credentials(s.db).Create(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("error creating credential: %w", err)
	}

	s.logger.Info(ctx, "credential added", "owner_id", sess.OwnerID, "credential_id", row.ID, "level", row.SecurityLevel)
	return view(row, in.Password, in.Notes), nil
}

func (s *VaultService) ListCredentials(ctx context.Context, token string) ([]*Credential, error) {
	c, sess, err := s.Cipher(ctx, token)
	if err != nil {
		return nil, err
	}

	rows, err := s.repomanager.Credentials(s.db).List(ctx, sess.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("error listing credentials: %w", err)
	}

	out := make([]*Credential, 0, len(rows))
	for _, row := range rows {
		v, err := s.open(ctx, c, row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *VaultService) GetCredential(ctx context.Context, token, id string) (*Credential, error) {
	c, sess, err := s.Cipher(ctx, token)
	if err != nil {
		return nil, err
	}

	row, err := s.repomanager.Credentials(s.db).Get(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, fmt.Errorf("error loading credential: %w", err)
	}
	return s.open(ctx, c, row)
}

func (s *VaultService) UpdateCredential(ctx context.Context, token, id string, in CredentialInput) (*Credential, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	s.rotation.RLock()
	defer s.rotation.RUnlock()

	c, sess, err := s.Cipher(ctx, token)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Credentials(s.db)
	row, err := repo.Get(ctx, sess.OwnerID, id)
	if err != nil {
		return nil, fmt.Errorf("error loading credential: %w", err)
	}

	row.Website = strings.TrimSpace(in.Website)
	row.Username = in.Username
	row.SecurityLevel = SecurityLevelOf(in.Password)
	if err := s.seal(ctx, c, row, in); err != nil {
		return nil, err
	}

	if err := repo.Update(ctx, row); err != nil {
		return nil, fmt.Errorf("error updating credential: %w", err)
	}
	row.UpdatedAt = s.now().UTC()

	s.logger.Info(ctx, "credential updated", "owner_id", sess.OwnerID, "credential_id", row.ID, "level", row.SecurityLevel)
	return view(row, in.Password, in.Notes), nil
}

func (s *VaultService) DeleteCredential(ctx context.Context, token, id string) error {
	sess, err := s.Session(ctx, token)
	if err != nil {
		return err
	}

	if err := s.repomanager.Credentials(s.db).Delete(ctx, sess.OwnerID, id); err != nil {
		return fmt.Errorf("error deleting credential: %w", err)
	}

	s.logger.Info(ctx, "credential deleted", "owner_id", sess.OwnerID, "credential_id", id)
	return nil
}

// seal encrypts the secret fields of in into row. Empty notes stay empty.
func (s *VaultService) seal(ctx context.Context, c *vaultcipher.Cipher, row *models.Credential, in CredentialInput) error {
	return s.pool.Do(ctx, func() error {
		pw, err := c.EncryptString(in.Password)
		if err != nil {
			return fmt.Errorf("error encrypting password: %w", err)
		}
		row.Password = pw

		row.Notes = ""
		if in.Notes != "" {
			notes, err := c.EncryptString(in.Notes)
			if err != nil {
				return fmt.Errorf("error encrypting notes: %w", err)
			}
			row.Notes = notes
		}
		return nil
	})
}

func (s *VaultService) open(ctx context.Context, c *vaultcipher.Cipher, row *models.Credential) (*Credential, error) {
	var pw, notes string
	err := s.pool.Do(ctx, func() error {
		var err error
		if pw, err = c.DecryptString(row.Password); err != nil {
			return err
		}
		if row.Notes != "" {
			if notes, err = c.DecryptString(row.Notes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error decrypting credential %s: %w", row.ID, err)
	}
	return view(row, pw, notes), nil
}

func view(row *models.Credential, password, notes string) *Credential {
	return &Credential{
		ID:            row.ID,
		Website:       row.Website,
		Username:      row.Username,
		Password:      password,
		Notes:         notes,
		SecurityLevel: row.SecurityLevel,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
