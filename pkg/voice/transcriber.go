package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoTranscript is returned when no host recognized any speech.
var ErrNoTranscript = errors.New("no transcription result from any host")

// TieBreak selects between competing host transcripts.
type TieBreak string

const (
	// TieLongest keeps the longest text; equal lengths go to the earlier host.
	TieLongest TieBreak = "longest"
	// TieConfidence keeps the highest mean word confidence.
	TieConfidence TieBreak = "confidence"
)

const chunkSize = 8000

// vosk-server matches the end-of-stream marker literally.
const eofMessage = `{"eof" : 1}`

// Transcript is one host's recognition result.
type Transcript struct {
	Host       string
	Text       string
	Confidence float64
}

type voskWord struct {
	Conf float64 `json:"conf"`
}

type voskMessage struct {
	Text    string     `json:"text"`
	Partial string     `json:"partial"`
	Result  []voskWord `json:"result"`
}

// Transcriber sends audio to every configured Vosk host in parallel and
// keeps one result.
type Transcriber struct {
	hosts   []string
	tie     TieBreak
	dialer  *websocket.Dialer
	timeout time.Duration
}

// NewTranscriber creates a transcriber. An unknown tie-break falls back to
// TieLongest.
func NewTranscriber(hosts []string, tie string, timeout time.Duration) *Transcriber {
	tb := TieBreak(tie)
	if tb != TieConfidence {
		tb = TieLongest
	}
	return &Transcriber{
		hosts:   hosts,
		tie:     tb,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		timeout: timeout,
	}
}

// TranscribeFile recognizes the WAV file at path.
func (t *Transcriber) TranscribeFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	return t.Transcribe(ctx, data)
}

// Transcribe recognizes 16 kHz mono audio on all hosts.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(t.hosts) == 0 {
		return "", fmt.Errorf("no vosk hosts configured")
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	results := make([]Transcript, len(t.hosts))
	var wg sync.WaitGroup
	for i, host := range t.hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			res, err := t.recognize(ctx, host, audio)
			if err != nil {
				slog.WarnContext(ctx, "Transcription host failed", "host", host, "error", err)
				return
			}
			results[i] = res
		}(i, host)
	}
	wg.Wait()

	best, ok := Pick(results, t.tie)
	if !ok {
		return "", ErrNoTranscript
	}
	slog.InfoContext(ctx, "Voice transcribed", "host", best.Host, "chars", len(best.Text), "confidence", best.Confidence)
	return best.Text, nil
}

// Pick applies the tie-break to index-ordered results. Empty texts never win.
func Pick(results []Transcript, tie TieBreak) (Transcript, bool) {
	var best Transcript
	found := false
	for _, r := range results {
		if r.Text == "" {
			continue
		}
		if !found {
			best, found = r, true
			continue
		}
		switch tie {
		case TieConfidence:
			if r.Confidence > best.Confidence {
				best = r
			}
		default:
			if len([]rune(r.Text)) > len([]rune(best.Text)) {
				best = r
			}
		}
	}
	return best, found
}

// recognize streams audio to one host and returns the last text it sent
// before closing the connection.
func (t *Transcriber) recognize(ctx context.Context, host string, audio []byte) (Transcript, error) {
	conn, _, err := t.dialer.DialContext(ctx, host, nil)
	if err != nil {
		return Transcript{}, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	result := Transcript{Host: host}
	readDone := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, websocket.ErrCloseSent) {
					readDone <- nil
				} else {
					readDone <- err
				}
				return
			}
			var msg voskMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if text := strings.TrimSpace(msg.Text); text != "" {
				result.Text = text
				result.Confidence = meanConfidence(msg.Result)
			}
		}
	}()

	config := map[string]any{"config": map[string]any{"sample_rate": SampleRate}}
	if err := conn.WriteJSON(config); err != nil {
		return Transcript{}, fmt.Errorf("send config: %w", err)
	}
	reader := bytes.NewReader(audio)
	buf := make([]byte, chunkSize)
	for {
		n, _ := reader.Read(buf)
		if n == 0 {
			break
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
			return Transcript{}, fmt.Errorf("send audio: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(eofMessage)); err != nil {
		return Transcript{}, fmt.Errorf("send eof: %w", err)
	}

	err = <-readDone
	if ctx.Err() != nil {
		return Transcript{}, ctx.Err()
	}
	if err != nil && result.Text == "" {
		return Transcript{}, fmt.Errorf("read: %w", err)
	}
	return result, nil
}

func meanConfidence(words []voskWord) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Conf
	}
	return sum / float64(len(words))
}
