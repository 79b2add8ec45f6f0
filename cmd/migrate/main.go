// migrate applies the embedded PostgreSQL migrations for admins and the audit trail.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/AnshRaj112/trialguard-backend/internal/config"
	"github.com/AnshRaj112/trialguard-backend/internal/database"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.PostgresURI == "" {
		fmt.Fprintln(os.Stderr, "POSTGRES_URI is not set; create a .env or set POSTGRES_URI")
		os.Exit(1)
	}

	// already at target version counts as success
	if err := database.Migrate(cfg.PostgresURI, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("migrations %s: done\n", *direction)
}
