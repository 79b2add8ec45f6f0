package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

var PostgresDB *sql.DB

// ConnectPostgres opens the operator database. Schema changes go through
// migrations; run cmd/migrate or call Migrate before serving.
func ConnectPostgres(postgresURI string) error {
	db, err := sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	PostgresDB = db
	log.Println("✅ Connected to PostgreSQL")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
