// seed creates an operator account for the admin console.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/AnshRaj112/trialguard-backend/internal/config"
	"github.com/AnshRaj112/trialguard-backend/internal/database"
	"github.com/AnshRaj112/trialguard-backend/internal/services"
	"github.com/AnshRaj112/trialguard-backend/pkg/utils"
)

func main() {
	username := flag.String("username", "", "Operator username")
	email := flag.String("email", "", "Operator email")
	password := flag.String("password", "", "Operator password (min 12 characters)")
	flag.Parse()

	if err := utils.ValidateUsername(*username); err != nil {
		log.Fatalf("username: %v", err)
	}
	if err := utils.ValidatePassword(*password); err != nil {
		log.Fatalf("password: %v", err)
	}
	if *email == "" {
		log.Fatal("email is required")
	}

	_ = godotenv.Load()
	cfg := config.Load()
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer database.DisconnectPostgres()
	if err := database.Migrate(cfg.PostgresURI, "up"); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	admin, err := services.NewAdmin(*username, *email, *password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	repo := services.NewPostgresAdminRepository(database.PostgresDB)
	if err := repo.Create(ctx, admin); err != nil {
		if errors.Is(err, services.ErrAdminExists) {
			log.Printf("⚠️  operator %s already exists, skipping", admin.Username)
			return
		}
		log.Fatalf("create operator: %v", err)
	}
	log.Printf("✅ operator %s created (id %s)", admin.Username, admin.ID)
}
