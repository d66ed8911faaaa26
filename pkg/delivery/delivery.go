// Package delivery sends tool-produced files to the user through the
// originating transport.
package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"spendbot/pkg/api"
	"spendbot/pkg/tools"
	"spendbot/pkg/utils"
)

// Deliverer sends an artifact to the session's recipient and returns the
// file name the user sees.
type Deliverer interface {
	Deliver(ctx context.Context, sess tools.Session, art tools.Artifact) (string, error)
}

// Service downloads artifacts to a temp file and hands them to the
// transport as documents. The temp file is removed whatever the outcome.
type Service struct {
	httpClient *http.Client
	tempDir    string
}

// NewService creates a Service. An empty tempDir uses the OS default.
func NewService(timeout time.Duration, tempDir string) *Service {
	return &Service{
		httpClient: &http.Client{Timeout: timeout},
		tempDir:    tempDir,
	}
}

func (s *Service) Deliver(ctx context.Context, sess tools.Session, art tools.Artifact) (string, error) {
	sender, ok := sess.Transport.(api.DocumentSender)
	if !ok {
		return "", fmt.Errorf("channel %q cannot send documents: %w", sess.ChannelID, api.ErrUnsupported)
	}

	path, contentType, err := s.download(ctx, art.URL)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.WarnContext(ctx, "Failed to remove temp file", "path", path, "error", err)
		}
	}()

	name := utils.DocumentName(art.Name, art.URL, contentType)
	if err := sender.SendDocument(ctx, sess.SessionContext, path, name); err != nil {
		return "", fmt.Errorf("send document: %w", err)
	}
	slog.InfoContext(ctx, "Artifact delivered", "type", art.Type, "name", name, "chat", sess.ChatID)
	return name, nil
}

// download streams url to a temp file.
func (s *Service) download(ctx context.Context, url string) (path, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("download artifact: status code %d", resp.StatusCode)
	}

	if s.tempDir != "" {
		if err := os.MkdirAll(s.tempDir, 0755); err != nil {
			return "", "", fmt.Errorf("create temp dir: %w", err)
		}
	}
	out, err := os.CreateTemp(s.tempDir, "artifact_"+utils.GenerateID()+"_*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", "", fmt.Errorf("save artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", "", fmt.Errorf("save artifact: %w", err)
	}
	return out.Name(), resp.Header.Get("Content-Type"), nil
}
