// Command corrections inspects the correction store: it lists the most
// recent user corrections, or resolves what a given input would look up.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/shoplens/shoplens/internal/corrections"
	"github.com/shoplens/shoplens/internal/database"
)

func main() {
	var (
		dbPath    = flag.String("db", "./shoplens.db", "Path to the SQLite database")
		limit     = flag.Int("limit", 20, "Number of recent corrections to list")
		lookup    = flag.String("lookup", "", "Resolve the stored correction for this input value")
		inputType = flag.String("type", "text", "Input type for -lookup (text or url)")
	)
	flag.Parse()

	if env := os.Getenv("DB_PATH"); env != "" {
		*dbPath = env
	}

	db, err := database.NewDB(*dbPath)
	if err != nil {
		log.Fatal("Failed to open database:", err)
	}
	defer db.Close()

	store := corrections.NewStore(db)
	ctx := context.Background()

	if *lookup != "" {
		c, err := store.Lookup(ctx, corrections.InputType(*inputType), *lookup)
		if err != nil {
			log.Fatal("Lookup failed:", err)
		}
		if c == nil {
			fmt.Println("No correction stored for that input")
			return
		}
		fmt.Printf("%s: %q -> %q (stage %s, %s)\n", c.CorrectionType, c.OriginalValue, c.CorrectedValue, c.Stage, c.CreatedAt.Format("2006-01-02 15:04"))
		return
	}

	recent, err := store.RecentCorrections(ctx, *limit)
	if err != nil {
		log.Fatal("Failed to list corrections:", err)
	}
	if len(recent) == 0 {
		fmt.Println("No corrections recorded yet")
		return
	}

	for _, c := range recent {
		fmt.Printf("%s  %-18s %-10s %q -> %q\n",
			c.CreatedAt.Format("2006-01-02 15:04"), c.Stage, c.CorrectionType, c.OriginalValue, c.CorrectedValue)
	}
}
