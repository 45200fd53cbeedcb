package videos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/pkg/utils"
)

const recordExt = ".json"

// SessionSidecarSuffix names the files that describe in-flight sessions. They share the
// record extension but are never records, even when the temp dir lies under root.
const SessionSidecarSuffix = ".session.json"

// FileStore keeps each record as <root>/<folder>/<id>.json next to its video file.
type FileStore struct {
	root string
	log  *zap.Logger

	mu    sync.RWMutex
	index map[string]string // id -> record path
}

// NewFileStore opens (and creates) root and indexes the records already there.
func NewFileStore(root string, log *zap.Logger) (*FileStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrStoreIO, root, err)
	}
	s := &FileStore{root: root, log: log, index: make(map[string]string)}
	if err := s.reindex(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the directory the store writes into.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) Save(_ context.Context, v *models.Video) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("%w: record without id", ErrStoreIO)
	}
	path := filepath.Join(s.root, filepath.FromSlash(v.Folder), v.ID+recordExt)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrStoreIO, v.ID, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: create folder: %v", ErrStoreIO, err)
	}
	if err := utils.WriteFileAtomic(path, data, 0o640); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}

	s.mu.Lock()
	old, had := s.index[v.ID]
	s.index[v.ID] = path
	s.mu.Unlock()
	if had && old != path {
		_ = os.Remove(old)
		utils.PruneEmptyDirs(filepath.Dir(old), s.root)
	}
	s.log.Debug("video record saved", zap.String("video_id", v.ID), zap.String("path", path))
	return nil
}

func (s *FileStore) FindByID(_ context.Context, id string) (*models.Video, error) {
	path, ok := s.lookup(id)
	if !ok {
		if err := s.reindex(); err != nil {
			return nil, err
		}
		if path, ok = s.lookup(id); !ok {
			return nil, ErrNotFound
		}
	}
	v, err := readRecord(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		delete(s.index, id)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	return v, nil
}

// List rescans root so records written by other processes show up.
func (s *FileStore) List(_ context.Context) ([]models.VideoSummary, error) {
	if err := s.reindex(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	paths := make([]string, 0, len(s.index))
	for _, p := range s.index {
		paths = append(paths, p)
	}
	s.mu.RUnlock()

	out := make([]models.VideoSummary, 0, len(paths))
	for _, p := range paths {
		v, err := readRecord(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreIO, err)
		}
		out = append(out, v.Summary())
	}
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	path, ok := s.lookup(id)
	if !ok {
		if err := s.reindex(); err != nil {
			return err
		}
		if path, ok = s.lookup(id); !ok {
			return nil
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", ErrStoreIO, path, err)
	}
	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()
	utils.PruneEmptyDirs(filepath.Dir(path), s.root)
	s.log.Debug("video record deleted", zap.String("video_id", id))
	return nil
}

func (s *FileStore) lookup(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.index[id]
	return p, ok
}

// reindex walks root and rebuilds the id index. Hidden directories, session sidecars and
// files that do not decode as a record are skipped.
func (s *FileStore) reindex() error {
	index := make(map[string]string)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != recordExt || strings.HasSuffix(d.Name(), SessionSidecarSuffix) {
			return nil
		}
		v, rerr := readRecord(path)
		if rerr != nil || v.ID == "" {
			return nil
		}
		index[v.ID] = path
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: scan %s: %v", ErrStoreIO, s.root, err)
	}
	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	return nil
}

func readRecord(path string) (*models.Video, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v models.Video
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &v, nil
}
