package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/modelmarket/proxy-api/internal/auth"
	"github.com/modelmarket/proxy-api/internal/config"
	"github.com/modelmarket/proxy-api/internal/ledger"
	"github.com/modelmarket/proxy-api/internal/registry"
	"github.com/modelmarket/proxy-api/internal/secrets"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"github.com/modelmarket/proxy-api/internal/store/sqlite"
	"go.uber.org/zap"
)

// Seeds a demo user, credits, API key, and model for local development.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := zap.NewNop()

	repo, err := sqlite.New(cfg.Database.DSN, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = repo.Close()
	}()

	encKey := cfg.Security.EncryptionKey
	if encKey == "" {
		encKey, err = secrets.GenerateKey(32)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated encryption key (set SECURITY_ENCRYPTION_KEY): %s\n", encKey)
	}
	enc, err := secrets.NewFromBase64(encKey)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	now := time.Now().UTC()

	userID := uuid.New().String()
	user := &model.User{
		ID:        userID,
		Email:     "demo@example.com",
		Name:      "Demo User",
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.Users().Create(ctx, user); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Created user:    %s\n", userID)

	ledgerSvc := ledger.NewService(repo, logger)
	if _, err := ledgerSvc.Credit(ctx, userID, 10.0, "initial demo grant"); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Granted credits: 10.0")

	rawKey := "sk-demo-" + uuid.New().String()
	key := &model.APIKey{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          "Demo Key",
		KeyHash:       auth.HashKey(rawKey),
		KeyPrefix:     rawKey[:10],
		AllowedModels: "[]",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.APIKeys().Create(ctx, key); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Created key:     %s\n", rawKey)

	registrySvc := registry.NewService(repo, enc, logger)
	m, err := registrySvc.Create(ctx, registry.Params{
		DisplayName:       "demo/gpt-4o-mini",
		ProviderBaseURL:   "https://api.openai.com/v1",
		ProviderToken:     "sk-provider-secret-change-me",
		ProviderModelID:   "gpt-4o-mini",
		PricingInputPerK:  priceRef(0.00015),
		PricingOutputPerK: priceRef(0.0006),
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Created model:   %s (%s)\n", m.DisplayName, m.ID)
}

func priceRef(v float64) *float64 {
	return &v
}
