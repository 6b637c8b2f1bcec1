// Package credentials stores per-owner portal logins, passwords encrypted
// at rest. The coordinator reads them at attempt time through the
// reserve.CredentialStore interface.
package credentials

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/example/courtsched/internal/crypto"
	"github.com/example/courtsched/internal/db"
	"github.com/example/courtsched/internal/reserve"
)

type Store struct {
	db   *db.DB
	aead *crypto.AEAD
}

func NewStore(d *db.DB, aead *crypto.AEAD) *Store {
	return &Store{db: d, aead: aead}
}

func (s *Store) Set(ctx context.Context, ownerID int64, creds reserve.Credentials) error {
	enc, err := s.aead.EncryptToString(creds.Password)
	if err != nil {
		return errors.Wrap(err, "encrypt portal password")
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO portal_credentials(owner_id, username, password_encrypted, updated_at)
VALUES ($1,$2,$3,now())
ON CONFLICT (owner_id) DO UPDATE SET
  username=excluded.username,
  password_encrypted=excluded.password_encrypted,
  updated_at=now()`, ownerID, creds.Username, enc)
	return errors.Wrap(err, "store portal credentials")
}

func (s *Store) Get(ctx context.Context, ownerID int64) (reserve.Credentials, error) {
	var username, enc string
	err := s.db.QueryRow(ctx, `
SELECT username, password_encrypted FROM portal_credentials WHERE owner_id=$1`, ownerID).
		Scan(&username, &enc)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return reserve.Credentials{}, reserve.ErrNoCredentials
		}
		return reserve.Credentials{}, errors.Wrap(err, "load portal credentials")
	}

	password, err := s.aead.DecryptString(enc)
	if err != nil {
		return reserve.Credentials{}, errors.Wrap(err, "decrypt portal password")
	}
	return reserve.Credentials{Username: username, Password: password}, nil
}

// Static is the in-memory CredentialStore used by tests.
type Static map[int64]reserve.Credentials

func (s Static) Get(_ context.Context, ownerID int64) (reserve.Credentials, error) {
	c, ok := s[ownerID]
	if !ok {
		return reserve.Credentials{}, reserve.ErrNoCredentials
	}
	return c, nil
}
