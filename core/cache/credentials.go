package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsync/core/auth"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const credentialRowID = 1

type credentialRow struct {
	ID           int `gorm:"primaryKey;autoIncrement:false"`
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	UpdatedAt    time.Time
}

func (credentialRow) TableName() string { return "credentials" }

// CredentialStore persists the guard's credentials in the cache database as a single row.
type CredentialStore struct {
	db *gorm.DB
}

// NewCredentialStore creates a credential store on db.
func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Migrate creates the credentials table.
func (c *CredentialStore) Migrate(ctx context.Context) error {
	if err := c.db.WithContext(ctx).AutoMigrate(&credentialRow{}); err != nil {
		return fmt.Errorf("failed to migrate credentials: %w", err)
	}
	return nil
}

// Load implements auth.Persister.
func (c *CredentialStore) Load(ctx context.Context) (*auth.Credentials, error) {
	var row credentialRow
	err := c.db.WithContext(ctx).First(&row, credentialRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	creds := &auth.Credentials{AccessToken: row.AccessToken, RefreshToken: row.RefreshToken}
	if row.ExpiresAt != nil {
		creds.ExpiresAt = row.ExpiresAt.UTC()
	}
	return creds, nil
}

// Save implements auth.Persister.
func (c *CredentialStore) Save(ctx context.Context, creds auth.Credentials) error {
	row := credentialRow{ID: credentialRowID, AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken}
	if !creds.ExpiresAt.IsZero() {
		exp := creds.ExpiresAt.UTC()
		row.ExpiresAt = &exp
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// Clear implements auth.Persister.
func (c *CredentialStore) Clear(ctx context.Context) error {
	return c.db.WithContext(ctx).Delete(&credentialRow{}, credentialRowID).Error
}
