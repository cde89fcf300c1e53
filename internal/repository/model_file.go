package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"QuantPipe/internal/domain/models"
)

const artifactExt = ".json"

// FileModelStore keeps one artifact file per (period, train window) under
// a model directory, named <period-without-dashes>-<window>.json.
type FileModelStore struct {
	dir string
}

func NewFileModelStore(dir string) *FileModelStore {
	return &FileModelStore{dir: dir}
}

func (s *FileModelStore) path(key models.ModelKey) string {
	return filepath.Join(s.dir, key.String()+artifactExt)
}

func (s *FileModelStore) Save(_ context.Context, key models.ModelKey, artifact []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("save model %s: %w", key, err)
	}
	err := writeFileAtomic(s.path(key), func(w io.Writer) error {
		_, err := w.Write(artifact)
		return err
	})
	if err != nil {
		return fmt.Errorf("save model %s: %w", key, err)
	}
	return nil
}

func (s *FileModelStore) Load(_ context.Context, key models.ModelKey) ([]byte, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("model %s: %w", key, models.ErrModelNotFound)
		}
		return nil, fmt.Errorf("load model %s: %w", key, err)
	}
	return b, nil
}

func (s *FileModelStore) Periods(_ context.Context, trainWindow int) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list models: %w", err)
	}
	var out []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), artifactExt)
		if !ok || e.IsDir() {
			continue
		}
		key, err := models.ParseModelKey(name)
		if err != nil || key.TrainWindow != trainWindow {
			continue
		}
		out = append(out, key.Period)
	}
	sort.Strings(out)
	return out, nil
}
