package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shoplens/shoplens/internal/extract"
	"github.com/shoplens/shoplens/internal/session"
	"github.com/shoplens/shoplens/internal/storage"
)

// App bundles the service dependencies the handlers need.
type App struct {
	Sessions      *session.Service
	Extractor     *extract.Unified
	Storage       storage.Storage
	MaxUploadSize int64
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (app *App) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	images, uploads, err := app.readImages(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(images) == 0 {
		respondError(w, http.StatusBadRequest, "at least one image is required")
		return
	}

	sess, err := app.Sessions.Start(images, r.FormValue("hint"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start session: %v", err))
		return
	}

	resp := map[string]interface{}{
		"session_id": sess.ID,
		"mode":       sess.Mode,
		"state":      sess.State(),
	}
	if len(uploads) > 0 {
		resp["uploads"] = uploads
	}
	respondJSON(w, http.StatusCreated, resp)
}

// NextPassHandler submits another batch to a completed session, accumulating
// confirmed items across passes.
func (app *App) NextPassHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	images, _, err := app.readImages(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(images) == 0 {
		respondError(w, http.StatusBadRequest, "at least one image is required")
		return
	}

	if err := app.Sessions.NextPass(sessionID, images, r.FormValue("hint")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "detecting"})
}

// readImages reads the multipart batch and archives each image, returning the
// raw bytes alongside the archive filenames for later retrieval.
func (app *App) readImages(w http.ResponseWriter, r *http.Request) ([][]byte, []string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)
	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		return nil, nil, fmt.Errorf("upload too large or malformed")
	}
	if r.MultipartForm == nil {
		return nil, nil, fmt.Errorf("multipart form required")
	}

	var images [][]byte
	var uploads []string
	for _, header := range r.MultipartForm.File["images"] {
		file, err := header.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open uploaded file %s", header.Filename)
		}

		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read uploaded file %s", header.Filename)
		}

		if app.Storage != nil {
			seeker, err := header.Open()
			if err == nil {
				name, err := app.Storage.SaveFile(seeker, storage.FileInfo{
					Filename:    header.Filename,
					ContentType: header.Header.Get("Content-Type"),
					Size:        header.Size,
				})
				if err != nil {
					log.Printf("[API] Failed to archive uploaded image %s: %v", header.Filename, err)
				} else {
					uploads = append(uploads, name)
				}
				seeker.Close()
			}
		}

		images = append(images, data)
	}
	return images, uploads, nil
}

// UploadHandler serves an archived upload back by its storage filename.
func (app *App) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if app.Storage == nil {
		respondError(w, http.StatusNotFound, "upload archive disabled")
		return
	}

	filename := chi.URLParam(r, "filename")
	file, err := app.Storage.OpenFile(filename)
	if err != nil {
		respondError(w, http.StatusNotFound, "upload not found")
		return
	}
	defer file.Close()

	http.ServeContent(w, r, filename, time.Time{}, file)
}

func (app *App) DeleteUploadHandler(w http.ResponseWriter, r *http.Request) {
	if app.Storage == nil {
		respondError(w, http.StatusNotFound, "upload archive disabled")
		return
	}

	filename := chi.URLParam(r, "filename")
	if err := app.Storage.DeleteFile(filename); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			respondError(w, http.StatusNotFound, "upload not found")
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to delete upload: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (app *App) SessionHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := app.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

// SessionEventsHandler streams session updates as server-sent events until
// the client disconnects.
func (app *App) SessionEventsHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := app.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	clientGone := r.Context().Done()

	for {
		select {
		case update, ok := <-sess.Updates:
			if !ok {
				return
			}

			data, err := json.Marshal(update.Data)
			if err != nil {
				log.Printf("[API] Error marshaling update: %v", err)
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Type, data)
			flusher.Flush()

		case <-clientGone:
			return
		}
	}
}

func (app *App) ValidateObjectsHandler(w http.ResponseWriter, r *http.Request) {
	var v session.ObjectValidation
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := app.Sessions.ValidateObjects(chi.URLParam(r, "id"), v); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "identifying"})
}

func (app *App) ConfirmProductsHandler(w http.ResponseWriter, r *http.Request) {
	var c session.ProductConfirmation
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := app.Sessions.ConfirmProducts(chi.URLParam(r, "id"), c); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "enriching"})
}

func (app *App) SkipItemHandler(w http.ResponseWriter, r *http.Request) {
	err := app.Sessions.SkipItem(chi.URLParam(r, "id"), chi.URLParam(r, "productID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

func (app *App) CancelSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Sessions.Cancel(chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (app *App) RetrySessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Sessions.Retry(chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "detecting"})
}

// ExtractVideoHandler runs unified extraction over a video's description,
// transcript and sampled frames and returns the merged, link-paired list.
func (app *App) ExtractVideoHandler(w http.ResponseWriter, r *http.Request) {
	var input extract.VideoInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.VideoID == "" && input.Description == "" {
		respondError(w, http.StatusBadRequest, "video_id or description is required")
		return
	}

	products, err := app.Extractor.Extract(r.Context(), input)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("extraction failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"products": products})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[API] Error encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
