package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shoplens/shoplens/internal/extract"
	"github.com/shoplens/shoplens/internal/product"
	"github.com/shoplens/shoplens/internal/recognizer"
	"github.com/shoplens/shoplens/internal/session"
	"github.com/shoplens/shoplens/internal/sse"
	"github.com/shoplens/shoplens/internal/storage"
)

type fakeRecognizer struct{}

func (fakeRecognizer) DetectObjects(_ context.Context, image []byte, _ string) ([]recognizer.DetectedObject, error) {
	return []recognizer.DetectedObject{{
		ID:         "obj-1",
		ObjectType: "golf driver",
		Certainty:  recognizer.CertaintyLikely,
	}}, nil
}

func (fakeRecognizer) IdentifyProduct(_ context.Context, req recognizer.IdentifyRequest) ([]recognizer.IdentifiedProduct, error) {
	return []recognizer.IdentifiedProduct{{ID: "prod-1", Name: "Qi10 Driver", Confidence: 85}}, nil
}

func (fakeRecognizer) ValidateProductMatch(context.Context, recognizer.IdentifiedProduct, []byte) (recognizer.ValidationResult, error) {
	return recognizer.ValidationResult{Recommendation: recognizer.RecommendationConfirmed}, nil
}

func (fakeRecognizer) EnrichProduct(context.Context, recognizer.IdentifiedProduct) (recognizer.Enrichment, error) {
	return recognizer.Enrichment{}, nil
}

func (fakeRecognizer) ExtractFromText(context.Context, recognizer.TextExtractRequest) ([]product.ExtractedProduct, error) {
	return nil, nil
}

func testApp() *App {
	return &App{
		Sessions:      session.NewService(fakeRecognizer{}, nil, session.Config{}),
		Extractor:     extract.NewUnified(extract.NewDescriptionExtractor(nil), extract.NewTranscriptExtractor(nil, nil), nil),
		MaxUploadSize: 8 << 20,
	}
}

func multipartImages(t *testing.T, names ...string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, name := range names {
		part, err := writer.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write([]byte("jpeg-bytes-" + name))
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestPingHandler(t *testing.T) {
	router := NewRouter(testApp())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/ping", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("ping = %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateSessionAndSnapshot(t *testing.T) {
	router := NewRouter(testApp())

	body, contentType := multipartImages(t, "club.jpg")
	req := httptest.NewRequest("POST", "/api/sessions", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create session = %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		SessionID string `json:"session_id"`
		Mode      string `json:"mode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if created.SessionID == "" || created.Mode != "single" {
		t.Errorf("created = %+v", created)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/"+created.SessionID+"/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("snapshot = %d", rec.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid snapshot: %v", err)
	}
	if snap.ID != created.SessionID {
		t.Errorf("snapshot id = %q, want %q", snap.ID, created.SessionID)
	}
}

func TestCreateSessionWithoutImages(t *testing.T) {
	router := NewRouter(testApp())

	body, contentType := multipartImages(t)
	req := httptest.NewRequest("POST", "/api/sessions", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// Archived uploads are retrievable and deletable by the filenames returned
// from session creation.
func TestUploadArchiveServing(t *testing.T) {
	app := testApp()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	app.Storage = store
	router := NewRouter(app)

	body, contentType := multipartImages(t, "club.jpg")
	req := httptest.NewRequest("POST", "/api/sessions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session = %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Uploads []string `json:"uploads"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(created.Uploads) != 1 {
		t.Fatalf("uploads = %v, want one archived filename", created.Uploads)
	}
	name := created.Uploads[0]

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/uploads/"+name, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch upload = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "jpeg-bytes-club.jpg" {
		t.Errorf("upload body = %q, want the original bytes", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/uploads/"+name, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete upload = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/uploads/"+name, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("fetch after delete = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/uploads/"+name, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete after delete = %d, want 404", rec.Code)
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	router := NewRouter(testApp())

	paths := []struct {
		method string
		path   string
		body   string
	}{
		{"GET", "/api/sessions/nope/", ""},
		{"POST", "/api/sessions/nope/validate-objects", "{}"},
		{"POST", "/api/sessions/nope/confirm-products", "{}"},
		{"POST", "/api/sessions/nope/cancel", ""},
		{"POST", "/api/sessions/nope/retry", ""},
		{"POST", "/api/sessions/nope/skip/prod-1", ""},
	}

	for _, tt := range paths {
		var body io.Reader
		if tt.body != "" {
			body = strings.NewReader(tt.body)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, body))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tt.method, tt.path, rec.Code)
		}
	}
}

func TestCheckpointActionInWrongStateReturns409(t *testing.T) {
	app := testApp()
	router := NewRouter(app)

	sess, err := app.Sessions.Start([][]byte{[]byte("img")}, "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// confirm-products is only legal at the product checkpoint; whatever
	// state the new session is in, it is not that one.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/sessions/"+sess.ID+"/confirm-products", strings.NewReader("{}"))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestExtractVideoHandler(t *testing.T) {
	router := NewRouter(testApp())

	description := `1. TaylorMade Qi10 Driver - https://amzn.to/driver
2. Scotty Cameron Phantom X - https://amzn.to/putter
3. FootJoy Pro SL - https://amzn.to/shoes`

	payload, _ := json.Marshal(extract.VideoInput{VideoID: "abc123", Description: description})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/videos/extract", bytes.NewReader(payload)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		Products []product.ProductWithSources `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if len(result.Products) != 3 {
		t.Errorf("products = %d, want 3", len(result.Products))
	}
}

func TestExtractVideoHandlerRejectsEmptyInput(t *testing.T) {
	router := NewRouter(testApp())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/videos/extract", strings.NewReader("{}")))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSessionEventsStream(t *testing.T) {
	app := testApp()
	server := httptest.NewServer(NewRouter(app))
	defer server.Close()

	sess, err := app.Sessions.Start([][]byte{[]byte("img")}, "")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", server.URL+"/api/sessions/"+sess.ID+"/events", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	decoder := sse.NewDecoder(resp.Body)
	for {
		event, err := decoder.Next()
		if err != nil {
			t.Fatalf("stream ended before the objects event: %v", err)
		}
		if event.Type == session.UpdateObjects {
			if !json.Valid(event.Data) {
				t.Errorf("objects payload is not valid JSON: %s", event.Data)
			}
			return
		}
	}
}
