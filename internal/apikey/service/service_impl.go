package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	apikeydomain "github.com/smallbiznis/paymirror/internal/apikey/domain"
	"github.com/smallbiznis/paymirror/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keySecretBytes   = 32
	keyPrefixChars   = 8
	keyRotationGrace = 24 * time.Hour
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  apikeydomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  apikeydomain.Repository
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) List(ctx context.Context) ([]apikeydomain.Response, error) {
	items, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}
	scopes, err := normalizeScopes(req.Scopes)
	if err != nil {
		return nil, err
	}

	return s.issue(ctx, s.db, name, scopes, nil)
}

func (s *Service) Rotate(ctx context.Context, keyID string) (*apikeydomain.SecretResponse, error) {
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return nil, apikeydomain.ErrInvalidKeyID
	}

	var result *apikeydomain.SecretResponse
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByKeyID(ctx, tx, trimmed)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if current == nil || !current.IsActive || isExpired(current.ExpiresAt, now) {
			return apikeydomain.ErrKeyNotFound
		}

		// The old key keeps working for a grace window so callers can swap
		// credentials without an outage.
		current.ExpiresAt = ptrTime(now.Add(keyRotationGrace))
		current.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}

		rotatedFrom := current.KeyID
		result, err = s.issue(ctx, tx, current.Name, current.Scopes, &rotatedFrom)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, trimmed)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrKeyNotFound
	}

	now := s.clock.Now()
	key.IsActive = false
	key.UpdatedAt = now
	if key.ExpiresAt == nil || key.ExpiresAt.After(now) {
		key.ExpiresAt = &now
	}
	return s.repo.Update(ctx, s.db, key)
}

func (s *Service) Verify(ctx context.Context, presented string) (*apikeydomain.Identity, error) {
	presented = strings.TrimSpace(presented)
	parts := strings.SplitN(presented, "_", 3)
	if len(parts) != 3 || parts[0] != "pk" || parts[1] == "" || parts[2] == "" {
		return nil, apikeydomain.ErrKeyInvalid
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, parts[1])
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if key == nil || !key.IsActive || isExpired(key.ExpiresAt, now) {
		return nil, apikeydomain.ErrKeyInvalid
	}
	if !apikeydomain.VerifyKey(presented, key.Digest) {
		return nil, apikeydomain.ErrKeyInvalid
	}

	if err := s.repo.TouchLastUsed(ctx, s.db, key.ID, now); err != nil {
		s.log.Warn("touch last_used failed", zap.String("key_id", key.KeyID), zap.Error(err))
	}

	return &apikeydomain.Identity{
		KeyID:  key.KeyID,
		Name:   key.Name,
		Scopes: append([]string(nil), key.Scopes...),
	}, nil
}

func (s *Service) EnsureBootstrapKey(ctx context.Context) error {
	count, err := s.repo.Count(ctx, s.db)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	secret, err := s.issue(ctx, s.db, "bootstrap", apikeydomain.AllScopes(), nil)
	if err != nil {
		return err
	}
	s.log.Warn("bootstrap operator key issued; it is shown only this once",
		zap.String("key_id", secret.KeyID),
		zap.String("api_key", secret.APIKey),
	)
	return nil
}

func (s *Service) issue(ctx context.Context, db *gorm.DB, name string, scopes []string, rotatedFrom *string) (*apikeydomain.SecretResponse, error) {
	now := s.clock.Now()
	keyID := ulid.Make().String()

	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	plain := fmt.Sprintf("pk_%s_%s", keyID, hex.EncodeToString(secret))

	digest, err := apikeydomain.HashKey(plain)
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.OperatorKey{
		ID:               s.genID.Generate(),
		KeyID:            keyID,
		Name:             name,
		Prefix:           plain[:keyPrefixChars],
		Digest:           digest,
		Scopes:           scopes,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
		RotatedFromKeyID: rotatedFrom,
	}
	if err := s.repo.Insert(ctx, db, key); err != nil {
		return nil, err
	}

	return &apikeydomain.SecretResponse{
		KeyID:  key.KeyID,
		Name:   key.Name,
		Scopes: append([]string(nil), key.Scopes...),
		APIKey: plain,
	}, nil
}

func normalizeScopes(raw []string) ([]string, error) {
	seen := map[string]bool{}
	scopes := make([]string, 0, len(raw))
	for _, scope := range raw {
		scope = strings.TrimSpace(scope)
		if scope == "" || seen[scope] {
			continue
		}
		if !apikeydomain.ValidScope(scope) {
			return nil, apikeydomain.ErrInvalidScope
		}
		seen[scope] = true
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		return nil, apikeydomain.ErrInvalidScope
	}
	sort.Strings(scopes)
	return scopes, nil
}

func toResponse(key *apikeydomain.OperatorKey) apikeydomain.Response {
	return apikeydomain.Response{
		KeyID:            key.KeyID,
		Name:             key.Name,
		Prefix:           key.Prefix,
		Scopes:           append([]string(nil), key.Scopes...),
		IsActive:         key.IsActive,
		CreatedAt:        key.CreatedAt,
		LastUsedAt:       key.LastUsedAt,
		ExpiresAt:        key.ExpiresAt,
		RotatedFromKeyID: key.RotatedFromKeyID,
	}
}

func isExpired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return now.After(*expiresAt)
}

func ptrTime(value time.Time) *time.Time {
	return &value
}
