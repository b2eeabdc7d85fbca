package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists operator keys. Find methods return (nil, nil) when no
// row matches.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *OperatorKey) error
	Update(ctx context.Context, db *gorm.DB, key *OperatorKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*OperatorKey, error)
	List(ctx context.Context, db *gorm.DB) ([]OperatorKey, error)
	Count(ctx context.Context, db *gorm.DB) (int64, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
