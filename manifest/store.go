package manifest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/slicemap/blobstore"
)

// Path returns the blob name of the manifest of build.
func Path(repo, build string) string {
	return "builds/" + repo + "/" + build
}

// CurrentPath returns the blob name of the CURRENT pointer of repo.
func CurrentPath(repo string) string {
	return Path(repo, CurrentFileName)
}

// Store reads and writes manifests in a blob store. It is safe for
// concurrent use.
type Store struct {
	store blobstore.Store
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.Store) *Store {
	return &Store{store: store}
}

// Save writes m. Manifests are immutable: saving a build twice fails with
// ErrBuildExists. Save does not move the CURRENT pointer.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.Version = CurrentVersion

	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	name := Path(m.Repo, m.Build)
	if err := blobstore.PutIfAbsent(ctx, s.store, name, data); err != nil {
		if errors.Is(err, blobstore.ErrExists) {
			return fmt.Errorf("%w: %s", ErrBuildExists, name)
		}
		return fmt.Errorf("manifest: save %s: %w", name, err)
	}
	return nil
}

// Load reads the manifest of build.
func (s *Store) Load(ctx context.Context, repo, build string) (*Manifest, error) {
	if err := validateRepo(repo); err != nil {
		return nil, err
	}
	if err := validateBuild(build); err != nil {
		return nil, err
	}
	name := Path(repo, build)
	data, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("manifest: load %s: %w", name, err)
	}

	m := &Manifest{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("manifest: load %s: %w", name, err)
	}
	if m.Repo != repo || m.Build != build {
		return nil, fmt.Errorf("manifest: %s describes %s", name, Path(m.Repo, m.Build))
	}
	return m, nil
}

// Current returns the name of the active build of repo.
func (s *Store) Current(ctx context.Context, repo string) (string, error) {
	if err := validateRepo(repo); err != nil {
		return "", err
	}
	data, err := blobstore.ReadAll(ctx, s.store, CurrentPath(repo))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", fmt.Errorf("%w: no current build of %s", ErrNotFound, repo)
		}
		return "", err
	}
	build := strings.TrimSpace(string(data))
	if err := validateBuild(build); err != nil {
		return "", fmt.Errorf("manifest: corrupt %s: %w", CurrentPath(repo), err)
	}
	return build, nil
}

// LoadCurrent reads the manifest of the active build of repo.
func (s *Store) LoadCurrent(ctx context.Context, repo string) (*Manifest, error) {
	build, err := s.Current(ctx, repo)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, repo, build)
}

// SetCurrent makes build the active build of repo. The build's manifest must
// load.
func (s *Store) SetCurrent(ctx context.Context, repo, build string) error {
	if _, err := s.Load(ctx, repo, build); err != nil {
		return err
	}
	return s.store.Put(ctx, CurrentPath(repo), []byte(build))
}

// List returns the sorted build names of repo.
func (s *Store) List(ctx context.Context, repo string) ([]string, error) {
	if err := validateRepo(repo); err != nil {
		return nil, err
	}
	prefix := Path(repo, "")
	names, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	builds := make([]string, 0, len(names))
	for _, name := range names {
		build := strings.TrimPrefix(name, prefix)
		// Skip the pointer and the builds of nested repositories.
		if build == CurrentFileName || strings.Contains(build, "/") {
			continue
		}
		builds = append(builds, build)
	}
	return builds, nil
}

// Delete removes the manifest of build. The active build cannot be deleted.
func (s *Store) Delete(ctx context.Context, repo, build string) error {
	if err := validateRepo(repo); err != nil {
		return err
	}
	if err := validateBuild(build); err != nil {
		return err
	}
	current, err := s.Current(ctx, repo)
	switch {
	case err == nil && current == build:
		return fmt.Errorf("%w: %s", ErrCurrentBuild, Path(repo, build))
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}
	return s.store.Delete(ctx, Path(repo, build))
}

// LiveBlobs returns the union of the blob sets of every build of repo.
// Blobs of the repository outside the result are referenced by no manifest.
func (s *Store) LiveBlobs(ctx context.Context, repo string) (*roaring64.Bitmap, error) {
	builds, err := s.List(ctx, repo)
	if err != nil {
		return nil, err
	}
	live := roaring64.New()
	for _, build := range builds {
		m, err := s.Load(ctx, repo, build)
		if err != nil {
			return nil, err
		}
		if m.Blobs != nil {
			live.Or(m.Blobs)
		}
	}
	return live, nil
}
