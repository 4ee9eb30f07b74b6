package main

import (
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/shoplens/shoplens/internal/api"
	"github.com/shoplens/shoplens/internal/corrections"
	"github.com/shoplens/shoplens/internal/database"
	"github.com/shoplens/shoplens/internal/extract"
	"github.com/shoplens/shoplens/internal/recognizer"
	"github.com/shoplens/shoplens/internal/session"
	"github.com/shoplens/shoplens/internal/storage"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	maxUploadSize := int64(33554432) // 32 MiB
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Fatal("Invalid MAX_UPLOAD_SIZE:", err)
		}
		maxUploadSize = parsed
	}

	uploadDir := os.Getenv("UPLOAD_DIR")
	if uploadDir == "" {
		uploadDir = "./uploads"
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./shoplens.db"
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "./migrations"
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY is required: the recognizer has no offline mode")
	}

	maxDetectWorkers := int64(4)
	if v := os.Getenv("MAX_DETECT_WORKERS"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			maxDetectWorkers = parsed
		}
	}

	maxFrames := 4
	if v := os.Getenv("MAX_FRAMES_PER_VIDEO"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			maxFrames = parsed
		}
	}

	localStorage, err := storage.NewLocalStorage(uploadDir)
	if err != nil {
		log.Fatal("Failed to initialize storage:", err)
	}

	db, err := database.NewDB(dbPath)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer db.Close()

	if err := db.RunMigrations(migrationsPath); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	rec := recognizer.NewOpenAIClient(apiKey)
	store := corrections.NewStore(db)

	sessions := session.NewService(rec, store, session.Config{
		MaxDetectWorkers: maxDetectWorkers,
	})

	var transcriptProvider extract.TranscriptProvider
	if transcriptURL := os.Getenv("TRANSCRIPT_API_URL"); transcriptURL != "" {
		transcriptProvider = extract.NewHTTPTranscriptProvider(transcriptURL)
	} else {
		log.Printf("TRANSCRIPT_API_URL not set; transcript evidence disabled")
	}

	extractor := extract.NewUnified(
		extract.NewDescriptionExtractor(rec),
		extract.NewTranscriptExtractor(rec, transcriptProvider),
		extract.NewFrameExtractor(rec, maxFrames),
	)

	app := &api.App{
		Sessions:      sessions,
		Extractor:     extractor,
		Storage:       localStorage,
		MaxUploadSize: maxUploadSize,
	}

	router := api.NewRouter(app)

	log.Printf("Server starting on port %s", port)
	log.Printf("Upload directory: %s", uploadDir)
	log.Printf("Corrections database: %s", dbPath)
	log.Printf("Detection workers: %d, frames per video: %d", maxDetectWorkers, maxFrames)

	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatal(err)
	}
}
