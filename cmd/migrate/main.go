// Command migrate applies pending SQL migrations to the corrections
// database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/shoplens/shoplens/internal/database"
)

func main() {
	var (
		dbPath         = flag.String("db", "./shoplens.db", "Path to the SQLite database")
		migrationsPath = flag.String("migrations", "./migrations", "Path to migrations directory")
		status         = flag.Bool("status", false, "Show available migrations without applying")
	)
	flag.Parse()

	if env := os.Getenv("DB_PATH"); env != "" {
		*dbPath = env
	}
	if env := os.Getenv("MIGRATIONS_PATH"); env != "" {
		*migrationsPath = env
	}

	db, err := database.NewDB(*dbPath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	if *status {
		migrations, err := database.NewMigrator(db).LoadMigrations(*migrationsPath)
		if err != nil {
			log.Fatal("Failed to load migrations:", err)
		}
		for _, m := range migrations {
			fmt.Printf("%s\t%s\n", m.Version, m.Name)
		}
		return
	}

	if err := database.NewMigrator(db).Run(*migrationsPath); err != nil {
		log.Fatal("Migration failed:", err)
	}
}
