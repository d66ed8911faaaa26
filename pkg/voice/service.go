// Package voice converts Telegram voice notes to text.
package voice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Service is the voice-to-text pipeline: ffmpeg conversion followed by
// Vosk recognition.
type Service struct {
	converter   *Converter
	transcriber *Transcriber
}

// NewService builds the pipeline. It returns nil when hosts is empty and
// voice input is disabled.
func NewService(hosts []string, tieBreak, ffmpegPath, workDir string, timeout time.Duration) *Service {
	if len(hosts) == 0 {
		return nil
	}
	return &Service{
		converter:   NewConverter(ffmpegPath, workDir),
		transcriber: NewTranscriber(hosts, tieBreak, timeout),
	}
}

// Enabled reports whether voice notes can be transcribed. Safe on nil.
func (s *Service) Enabled() bool {
	return s != nil
}

// Transcribe converts and recognizes the audio read from src. The
// intermediate WAV file is always removed.
func (s *Service) Transcribe(ctx context.Context, src io.Reader) (string, error) {
	if s == nil {
		return "", fmt.Errorf("voice input is disabled")
	}
	wav, err := s.converter.ToWAV(ctx, src)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(wav); err != nil && !os.IsNotExist(err) {
			slog.WarnContext(ctx, "Failed to remove temp audio", "path", wav, "error", err)
		}
	}()
	return s.transcriber.TranscribeFile(ctx, wav)
}
