package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/pkg/archive"
	"github.com/sirupsen/logrus"
)

// Cache restores a previously saved directory (pip caches, virtualenvs)
// into the workspace when its key matches. Saving happens after the cell
// finished successfully; the worker calls Save for every cache step whose
// key missed.
type Cache struct {
	dir string
	log *logrus.Entry
}

func NewCache(dir string, log *logrus.Entry) *Cache {
	return &Cache{dir: dir, log: log}
}

func (c *Cache) Name() string { return "cache" }

// CacheHitEnv is exported into the cell after a cache step so later steps
// and the worker can tell hits from misses.
const CacheHitEnv = "GANTRY_CACHE_HIT"

func (c *Cache) Execute(ctx context.Context, spec *Spec, sink Sink) (*Result, error) {
	key := spec.With["key"]
	path := spec.With["path"]
	if key == "" || path == "" {
		return provisionFailure(sink, "cache needs both key and path inputs"), nil
	}

	target := c.resolve(spec, path)
	entry := c.entry(key)
	f, err := os.Open(entry)
	if os.IsNotExist(err) {
		sink.Line("stdout", []byte(fmt.Sprintf("cache miss for key %s", key)))
		return &Result{Env: map[string]string{CacheHitEnv: "false"}}, nil
	}
	if err != nil {
		return provisionFailure(sink, "cache open: %v", err), nil
	}
	defer f.Close()

	if err := os.MkdirAll(target, 0o755); err != nil {
		return provisionFailure(sink, "cache target: %v", err), nil
	}
	if err := archive.Untar(f, target, nil); err != nil {
		return provisionFailure(sink, "cache restore: %v", err), nil
	}
	sink.Line("stdout", []byte(fmt.Sprintf("cache restored for key %s", key)))
	return &Result{Env: map[string]string{CacheHitEnv: "true"}}, nil
}

// Save tars the cached path under its key. Called by the worker once the
// cell succeeded, for steps that reported a miss.
func (c *Cache) Save(spec *Spec, sink Sink) error {
	key := spec.With["key"]
	target := c.resolve(spec, spec.With["path"])

	if _, err := os.Stat(target); err != nil {
		sink.Line("stdout", []byte(fmt.Sprintf("nothing to cache at %s", target)))
		return nil
	}
	rc, err := archive.TarWithOptions(target, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("cache pack: %w", err)
	}
	defer rc.Close()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, "cache-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.ReadFrom(rc); err != nil {
		tmp.Close()
		return fmt.Errorf("cache write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), c.entry(key)); err != nil {
		return err
	}
	sink.Line("stdout", []byte(fmt.Sprintf("cache saved for key %s", key)))
	return nil
}

func (c *Cache) resolve(spec *Spec, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(spec.Workspace, path)
}

func (c *Cache) entry(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".tar")
}
