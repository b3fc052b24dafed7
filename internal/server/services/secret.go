package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/dbx"
	"github.com/dmitrijs2005/vaultcore/internal/recovery"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
	"github.com/dmitrijs2005/vaultcore/internal/vaultcipher"
	"github.com/dmitrijs2005/vaultcore/internal/workpool"
)

// GenerateRecovery issues a new recovery code for the session's owner,
// replacing any previous one. The code is returned once and never stored.
func (s *VaultService) GenerateRecovery(ctx context.Context, token string) (string, error) {
	s.rotation.RLock()
	defer s.rotation.RUnlock()

	c, sess, err := s.Cipher(ctx, token)
	if err != nil {
		return "", err
	}

	issued, err := workpool.Call(ctx, s.pool, func() (recovery.Issued, error) {
		return s.recovery.Issue(c)
	})
	if err != nil {
		return "", fmt.Errorf("error issuing recovery code: %w", err)
	}

	rc := &models.RecoveryCredential{
		OwnerID:  sess.OwnerID,
		CodeHash: issued.Record.CodeHash,
		Escrow:   issued.Record.Escrow,
	}
	if err := s.repomanager.RecoveryCodes(s.db).Upsert(ctx, rc); err != nil {
		return "", fmt.Errorf("error saving recovery code: %w", err)
	}

	s.logger.Info(ctx, "recovery code generated", "owner_id", sess.OwnerID)
	return issued.Code, nil
}

// ChangeSecret replaces the master secret after verifying the old one.
// Every stored field is re-encrypted, the recovery code is invalidated and
// all sessions are revoked, all in one transaction. oldSecret and newSecret
// are wiped.
func (s *VaultService) ChangeSecret(ctx context.Context, clientKey, token string, oldSecret, newSecret []byte) error {
	defer common.WipeByteArray(oldSecret)
	defer common.WipeByteArray(newSecret)

	att, err := s.acquire(ctx, clientKey)
	if err != nil {
		return err
	}
	defer att.Release()

	if len(oldSecret) == 0 || len(newSecret) == 0 {
		return common.ErrInvalidInput
	}

	sess, err := s.Session(ctx, token)
	if err != nil {
		return err
	}

	owner, err := s.authenticate(ctx, att, clientKey, oldSecret)
	if err != nil {
		return err
	}
	if owner.ID != sess.OwnerID {
		return common.ErrAuthenticationFailed
	}

	from, err := vaultcipher.New(bytes.Clone(oldSecret), s.cipherOpts...)
	if err != nil {
		return fmt.Errorf("error building cipher: %w", err)
	}
	defer from.Destroy()

	if err := s.rotate(ctx, owner, from, newSecret); err != nil {
		return err
	}

	s.logger.Info(ctx, "master secret changed", "client", clientKey, "owner_id", owner.ID)
	return nil
}

// ResetWithRecovery sets a new master secret using a recovery code. The
// escrow behind the code yields the old secret, so stored fields are
// re-encrypted rather than lost. The code is consumed. Attempts count
// against clientKey like logins. newSecret is wiped.
func (s *VaultService) ResetWithRecovery(ctx context.Context, clientKey, code string, newSecret []byte) error {
	defer common.WipeByteArray(newSecret)

	att, err := s.acquire(ctx, clientKey)
	if err != nil {
		return err
	}
	defer att.Release()

	if len(newSecret) == 0 {
		return common.ErrInvalidInput
	}
	if _, err := recovery.Normalize(code); err != nil {
		att.Fail()
		return err
	}

	owner, rc, err := s.loadRecovery(ctx)
	if err != nil {
		return err
	}
	if rc == nil {
		// keep timing close to a real check
		_, _ = s.verify(ctx, []byte(code), s.dummyHash)
		att.Fail()
		s.logger.Warn(ctx, "recovery failed", "client", clientKey)
		return common.ErrAuthenticationFailed
	}

	from, err := workpool.Call(ctx, s.pool, func() (*vaultcipher.Cipher, error) {
		return s.recovery.Recover(code, recovery.Record{CodeHash: rc.CodeHash, Escrow: rc.Escrow})
	})
	if err != nil {
		if errors.Is(err, common.ErrAuthenticationFailed) {
			att.Fail()
			s.logger.Warn(ctx, "recovery failed", "client", clientKey)
			return err
		}
		return fmt.Errorf("error opening recovery escrow: %w", err)
	}
	defer from.Destroy()

	att.Succeed()

	if err := s.rotate(ctx, owner, from, newSecret); err != nil {
		return err
	}

	s.logger.Info(ctx, "master secret reset with recovery code", "client", clientKey, "owner_id", owner.ID)
	return nil
}

// loadRecovery returns the owner and its recovery credential. A missing
// owner or credential is reported as a nil credential.
func (s *VaultService) loadRecovery(ctx context.Context) (*models.Owner, *models.RecoveryCredential, error) {
	owner, err := s.repomanager.Owners(s.db).Get(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error loading owner: %w", err)
	}

	rc, err := s.repomanager.RecoveryCodes(s.db).Find(ctx, owner.ID)
	if errors.Is(err, common.ErrorNotFound) {
		return owner, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("error loading recovery code: %w", err)
	}
	return owner, rc, nil
}

// rotate moves the vault of owner from the cipher `from` to newSecret in a
// single serializable transaction: every credential is re-encrypted, the
// owner hash is replaced, the recovery credential is deleted and every
// session is revoked. Any failure leaves the vault unchanged.
func (s *VaultService) rotate(ctx context.Context, owner *models.Owner, from *vaultcipher.Cipher, newSecret []byte) error {
	newHash, err := s.hash(ctx, newSecret)
	if err != nil {
		return fmt.Errorf("error hashing new secret: %w", err)
	}

	to, err := vaultcipher.New(bytes.Clone(newSecret), s.cipherOpts...)
	if err != nil {
		return fmt.Errorf("error building cipher: %w", err)
	}
	defer to.Destroy()

	s.rotation.Lock()
	defer s.rotation.Unlock()

	var revoked int64
	err = dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		current, err := s.repomanager.Owners(tx).Get(ctx)
		if err != nil {
			return fmt.Errorf("error loading owner: %w", err)
		}
		if current.SecretHash != owner.SecretHash {
			// another rotation won the race
			return common.ErrAuthenticationFailed
		}

		creds := s.repomanager.Credentials(tx)

		rows, err := creds.List(ctx, owner.ID)
		if err != nil {
			return fmt.Errorf("error listing credentials: %w", err)
		}
		for _, row := range rows {
			if err := s.reencrypt(ctx, from, to, row); err != nil {
				return err
			}
			if err := creds.Update(ctx, row); err != nil {
				return fmt.Errorf("error updating credential %s: %w", row.ID, err)
			}
		}

		if err := s.repomanager.Owners(tx).UpdateSecretHash(ctx, owner.ID, newHash); err != nil {
			return fmt.Errorf("error updating owner: %w", err)
		}
		if err := s.repomanager.RecoveryCodes(tx).Delete(ctx, owner.ID); err != nil {
			return fmt.Errorf("error deleting recovery code: %w", err)
		}

		revoked, err = s.sessions.WithStore(s.repomanager.Sessions(tx)).RevokeOwner(ctx, owner.ID)
		return err
	})
	if err != nil {
		s.logger.Error(ctx, "secret rotation rolled back", "owner_id", owner.ID, "error", err)
		return err
	}

	dropped := s.keyring.DropOwner(owner.ID)
	s.logger.Info(ctx, "vault re-encrypted", "owner_id", owner.ID, "sessions_revoked", revoked, "ciphers_dropped", dropped)
	return nil
}

func (s *VaultService) reencrypt(ctx context.Context, from, to *vaultcipher.Cipher, row *models.Credential) error {
	return s.pool.Do(ctx, func() error {
		pw, err := from.Decrypt(row.Password)
		if err != nil {
			return fmt.Errorf("error decrypting credential %s: %w", row.ID, err)
		}
		defer common.WipeByteArray(pw)

		if row.Password, err = to.Encrypt(pw); err != nil {
			return fmt.Errorf("error encrypting credential %s: %w", row.ID, err)
		}

		if row.Notes == "" {
			return nil
		}
		notes, err := from.Decrypt(row.Notes)
		if err != nil {
			return fmt.Errorf("error decrypting credential %s: %w", row.ID, err)
		}
		defer common.WipeByteArray(notes)

		if row.Notes, err = to.Encrypt(notes); err != nil {
			return fmt.Errorf("error encrypting credential %s: %w", row.ID, err)
		}
		return nil
	})
}
