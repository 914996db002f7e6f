// Command edge-migrate applies the event log schema migrations.
package main

import (
	"embed"
	"log"
	"os"

	"github.com/edgesync/syncmanager/pkg/migrator"
)

//go:embed *.sql
var migrations embed.FS

func main() {
	dbURL := os.Getenv("EVENT_LOG_DATABASE_URL")
	if dbURL == "" {
		log.Fatal("EVENT_LOG_DATABASE_URL must be set")
	}
	if err := migrator.RunMigrations(dbURL, migrations); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	log.Println("event log migrations applied")
}
