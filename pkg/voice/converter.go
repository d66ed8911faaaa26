package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"spendbot/pkg/utils"
)

// SampleRate is the rate Vosk models expect.
const SampleRate = 16000

// Converter turns voice notes into 16 kHz mono WAV with ffmpeg.
type Converter struct {
	ffmpegPath string
	workDir    string
}

func NewConverter(ffmpegPath, workDir string) *Converter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Converter{ffmpegPath: ffmpegPath, workDir: workDir}
}

// ToWAV pipes src through ffmpeg and returns the path of the WAV file. The
// caller owns the file and must remove it.
func (c *Converter) ToWAV(ctx context.Context, src io.Reader) (string, error) {
	dir := c.workDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create voice work dir: %w", err)
	}
	out := filepath.Join(dir, "voice_"+utils.GenerateID()+".wav")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", fmt.Sprint(SampleRate),
		"-f", "wav",
		out,
	)
	cmd.Stdin = src
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.String()))
	}
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
