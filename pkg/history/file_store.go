package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"spendbot/pkg/api"
	"spendbot/pkg/llm"
)

// FileStore keeps one JSON file per user under dir.
type FileStore struct {
	dir    string
	writes KeyedMutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(userID string) string {
	safeID := filenameSafeRegex.ReplaceAllString(userID, "_")
	return filepath.Join(s.dir, fmt.Sprintf("history_%s.json", safeID))
}

func (s *FileStore) read(userID string) ([]record, error) {
	b, err := os.ReadFile(s.path(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, &api.HistoryParseError{UserID: userID, Cause: err}
	}
	return recs, nil
}

func (s *FileStore) Load(ctx context.Context, sess api.SessionContext, limit int) ([]llm.Message, error) {
	recs, err := s.read(sess.UserID)
	if err != nil {
		return nil, err
	}
	return fromRecords(lastN(recs, limit)), nil
}

// Append rewrites the user's file through a temp file and rename.
func (s *FileStore) Append(ctx context.Context, sess api.SessionContext, msgs []llm.Message) error {
	add := toRecords(msgs)
	if len(add) == 0 {
		return nil
	}

	unlock := s.writes.Lock(sess.UserID)
	defer unlock()

	recs, err := s.read(sess.UserID)
	if err != nil {
		return err
	}
	recs = append(recs, add...)

	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	target := s.path(sess.UserID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmp, target)
}
