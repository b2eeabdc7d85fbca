package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/paymirror/internal/apikey/domain"
	"gorm.io/gorm"
)

const keyColumns = `id, key_id, name, prefix, digest, scopes, is_active,
	created_at, updated_at, last_used_at, expires_at, rotated_from_key_id`

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.OperatorKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO operator_keys (
			id, key_id, name, prefix, digest, scopes, is_active,
			created_at, updated_at, last_used_at, expires_at, rotated_from_key_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.KeyID,
		key.Name,
		key.Prefix,
		key.Digest,
		key.Scopes,
		key.IsActive,
		key.CreatedAt,
		key.UpdatedAt,
		key.LastUsedAt,
		key.ExpiresAt,
		key.RotatedFromKeyID,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, key *apikeydomain.OperatorKey) error {
	return db.WithContext(ctx).Exec(
		`UPDATE operator_keys
		 SET name = ?, scopes = ?, is_active = ?, updated_at = ?, last_used_at = ?, expires_at = ?, rotated_from_key_id = ?
		 WHERE key_id = ?`,
		key.Name,
		key.Scopes,
		key.IsActive,
		key.UpdatedAt,
		key.LastUsedAt,
		key.ExpiresAt,
		key.RotatedFromKeyID,
		key.KeyID,
	).Error
}

func (r *repo) FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*apikeydomain.OperatorKey, error) {
	var key apikeydomain.OperatorKey
	err := db.WithContext(ctx).Raw(
		`SELECT `+keyColumns+`
		 FROM operator_keys
		 WHERE key_id = ?
		 LIMIT 1`,
		keyID,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]apikeydomain.OperatorKey, error) {
	var keys []apikeydomain.OperatorKey
	err := db.WithContext(ctx).Raw(
		`SELECT ` + keyColumns + `
		 FROM operator_keys
		 ORDER BY created_at DESC, id DESC`,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM operator_keys`).Scan(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE operator_keys SET last_used_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}
