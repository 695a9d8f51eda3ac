// Package fsstore keeps model artifacts on the local filesystem:
// immutable versioned blobs under versions/, a JSON index with per
// version metadata, and a CURRENT pointer file naming the published
// version. The pointer is replaced by atomic rename, so readers see
// the old or the new version and never a torn write.
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"model-pipeline-service/internal/core/domain"
)

const (
	versionsDir = "versions"
	currentFile = "CURRENT"
	indexFile   = "index.json"
)

// Store implements the artifact store on a directory.
type Store struct {
	dir string

	// mu serializes Put, Publish and Prune. Reads go lock-free against
	// the immutable version blobs and the atomically replaced pointer.
	mu sync.Mutex
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, versionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create store layout: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// CurrentPath returns the path of the published-version pointer file.
func (s *Store) CurrentPath() string {
	return filepath.Join(s.dir, currentFile)
}

// Put stores the artifact under the next version number. The stored
// copy gets its Version and CreatedAt assigned here; the caller's
// artifact is not modified.
func (s *Store) Put(ctx context.Context, artifact *domain.ModelArtifact) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.maxVersionLocked()
	if err != nil {
		return 0, err
	}
	next++

	stored := *artifact
	stored.Version = next
	stored.CreatedAt = time.Now().UTC()

	path := s.versionPath(next)
	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("version %d: %w", next, domain.ErrVersionExists)
	}

	blob, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode artifact: %w", err)
	}
	if err := writeFileAtomic(path, blob); err != nil {
		return 0, fmt.Errorf("write version %d: %w", next, err)
	}

	index, err := s.readIndex()
	if err != nil {
		return 0, err
	}
	index = append(index, domain.ArtifactInfo{Version: next, CreatedAt: stored.CreatedAt, Metric: stored.Metric})
	if err := s.writeIndex(index); err != nil {
		return 0, err
	}

	return next, nil
}

// Publish points CURRENT at the given version. Re-publishing the
// current version is a no-op.
func (s *Store) Publish(ctx context.Context, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.versionPath(version)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("version %d: %w", version, domain.ErrArtifactNotFound)
		}
		return fmt.Errorf("stat version %d: %w", version, err)
	}

	if cur, err := s.readCurrent(); err == nil && cur == version {
		return nil
	}

	data := []byte(strconv.Itoa(version) + "\n")
	if err := writeFileAtomic(s.CurrentPath(), data); err != nil {
		return fmt.Errorf("update current pointer: %w", err)
	}
	return nil
}

// Get loads one stored version.
func (s *Store) Get(ctx context.Context, version int) (*domain.ModelArtifact, error) {
	blob, err := os.ReadFile(s.versionPath(version))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("version %d: %w", version, domain.ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("read version %d: %w", version, err)
	}
	var artifact domain.ModelArtifact
	if err := json.Unmarshal(blob, &artifact); err != nil {
		return nil, fmt.Errorf("decode version %d: %w", version, err)
	}
	return &artifact, nil
}

// GetCurrent loads the published version.
func (s *Store) GetCurrent(ctx context.Context) (*domain.ModelArtifact, error) {
	version, err := s.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, version)
}

// CurrentVersion reads the published version number.
func (s *Store) CurrentVersion(ctx context.Context) (int, error) {
	return s.readCurrent()
}

// ListVersions returns the index entries, newest version first.
func (s *Store) ListVersions(ctx context.Context) ([]domain.ArtifactInfo, error) {
	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Version > index[j].Version })
	return index, nil
}

// Prune deletes the oldest versions beyond keep. The published version
// is never deleted, even when it falls into the oldest range. Returns
// the deleted version numbers.
func (s *Store) Prune(ctx context.Context, keep int) ([]int, error) {
	if keep < 1 {
		return nil, fmt.Errorf("retention must keep at least one version, got %d", keep)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Version < index[j].Version })
	if len(index) <= keep {
		return nil, nil
	}

	current, err := s.readCurrent()
	if err != nil {
		current = 0
	}

	var pruned []int
	remaining := index[:0]
	for i, info := range index {
		old := i < len(index)-keep
		if old && info.Version != current {
			if err := os.Remove(s.versionPath(info.Version)); err != nil && !os.IsNotExist(err) {
				return pruned, fmt.Errorf("remove version %d: %w", info.Version, err)
			}
			pruned = append(pruned, info.Version)
			continue
		}
		remaining = append(remaining, info)
	}

	if err := s.writeIndex(remaining); err != nil {
		return pruned, err
	}
	return pruned, nil
}

func (s *Store) versionPath(version int) string {
	return filepath.Join(s.dir, versionsDir, fmt.Sprintf("v%06d.json", version))
}

// maxVersionLocked scans the versions directory for the highest stored
// version number. The directory, not the index, is authoritative for
// numbering so a rebuilt index can never cause a version to be reused.
func (s *Store) maxVersionLocked() (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, versionsDir))
	if err != nil {
		return 0, fmt.Errorf("scan versions: %w", err)
	}
	highest := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json"))
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (s *Store) readCurrent() (int, error) {
	data, err := os.ReadFile(s.CurrentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, domain.ErrNoCurrentArtifact
		}
		return 0, fmt.Errorf("read current pointer: %w", err)
	}
	version, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt current pointer %q: %w", strings.TrimSpace(string(data)), err)
	}
	return version, nil
}

func (s *Store) readIndex() ([]domain.ArtifactInfo, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	var index []domain.ArtifactInfo
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return index, nil
}

func (s *Store) writeIndex(index []domain.ArtifactInfo) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, indexFile), data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a sibling temp file, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
