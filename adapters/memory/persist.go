package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/strata/store"
)

// Persister loads and saves the full data set.
type Persister interface {
	Load(ctx context.Context) ([]store.Entity, error)
	Save(ctx context.Context, docs []store.Entity) error
}

// FileLock is an exclusive, cross-process lock.
type FileLock interface {
	TryLockContext(ctx context.Context, retryInterval time.Duration) (bool, error)
	Unlock() error
}

// FilePersister stores entities in a YAML file. Writers hold a lock on a
// sibling ".lock" file and replace the data file atomically.
type FilePersister struct {
	path          string
	lock          FileLock
	retryInterval time.Duration
}

type fileFormat struct {
	Entities []map[string]any `yaml:"entities"`
}

// NewFilePersister creates a persister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{
		path:          path,
		lock:          flock.New(path + ".lock"),
		retryInterval: 50 * time.Millisecond,
	}
}

// Load reads the file. A missing file is an empty data set.
func (p *FilePersister) Load(ctx context.Context) ([]store.Entity, error) {
	unlock, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.path, err)
	}
	docs := make([]store.Entity, 0, len(f.Entities))
	for _, e := range f.Entities {
		docs = append(docs, store.Entity(e))
	}
	return docs, nil
}

// Save rewrites the file with docs.
func (p *FilePersister) Save(ctx context.Context, docs []store.Entity) error {
	unlock, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	f := fileFormat{Entities: make([]map[string]any, 0, len(docs))}
	for _, doc := range docs {
		f.Entities = append(f.Entities, doc)
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}

func (p *FilePersister) acquire(ctx context.Context) (func(), error) {
	ok, err := p.lock.TryLockContext(ctx, p.retryInterval)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", p.path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: not acquired", p.path)
	}
	return func() { _ = p.lock.Unlock() }, nil
}
