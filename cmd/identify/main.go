// Command identify submits one or more images to a running shoplens server
// and follows the session's event stream, printing each update as it
// arrives. It exits on the stream's terminal event.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/shoplens/shoplens/internal/sse"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "shoplens server base URL")
	hint := flag.String("hint", "", "optional category hint for detection")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("usage: identify [-server URL] [-hint text] image.jpg [image2.jpg ...]")
	}

	sessionID, err := createSession(*server, *hint, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Session %s started\n", sessionID)

	if err := followEvents(*server, sessionID); err != nil {
		log.Fatal(err)
	}
}

func createSession(server, hint string, paths []string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", path, err)
		}

		part, err := writer.CreateFormFile("images", filepath.Base(path))
		if err != nil {
			file.Close()
			return "", err
		}
		if _, err := io.Copy(part, file); err != nil {
			file.Close()
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		file.Close()
	}
	if hint != "" {
		writer.WriteField("hint", hint)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	resp, err := http.Post(server+"/api/sessions", writer.FormDataContentType(), &body)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("server returned status %d: %s", resp.StatusCode, respBody)
	}

	sessionID := gjson.GetBytes(respBody, "session_id").String()
	if sessionID == "" {
		return "", fmt.Errorf("no session_id in response: %s", respBody)
	}
	return sessionID, nil
}

func followEvents(server, sessionID string) error {
	resp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s/events", server, sessionID))
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	decoder := sse.NewDecoder(resp.Body)
	for {
		event, err := decoder.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream error: %w", err)
		}

		printEvent(event)

		switch event.Type {
		case "complete", "error", "cancelled":
			return nil
		}
	}
}

func printEvent(event sse.Event) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, event.Data, "  ", "  "); err != nil {
		fmt.Printf("[%s] %s\n", event.Type, event.Data)
		return
	}
	fmt.Printf("[%s]\n  %s\n", event.Type, pretty.String())
}
