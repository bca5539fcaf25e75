package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/domain/repository"
	"StockRisk/internal/services/ml"
	"StockRisk/pkg/logger"
	"StockRisk/pkg/util"
)

// Artifact file names inside a version directory.
const (
	ModelFile  = "model.msgpack"
	ScalerFile = "scaler.msgpack"
)

// ErrNoVersions is returned by Load("latest") on an empty store.
var ErrNoVersions = errors.New("model store: no versions")

// FSModelStore keeps one directory per version under root. A version
// directory only ever appears fully written.
type FSModelStore struct {
	root string
	log  *logger.Logger
	now  func() time.Time
}

var _ repository.ModelStore = (*FSModelStore)(nil)

func NewFSModelStore(root string, lgr *logger.Logger) *FSModelStore {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &FSModelStore{root: root, log: lgr, now: time.Now}
}

// Root is the store directory.
func (s *FSModelStore) Root() string { return s.root }

// Path is the directory of version.
func (s *FSModelStore) Path(version string) string {
	return filepath.Join(s.root, version)
}

// Save assigns a new version to a (or keeps a.Version when set) and writes
// both artifacts atomically.
func (s *FSModelStore) Save(ctx context.Context, a *ml.Artifacts) (string, error) {
	if a == nil || a.Model == nil || a.Scaler == nil {
		return "", fmt.Errorf("%w: incomplete artifacts", models.ErrArtifactMismatch)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	version := a.Version
	if version == "" {
		version = s.nextVersion()
	}
	if !util.IsVersion(version) {
		return "", fmt.Errorf("invalid version %q", version)
	}

	stamped := ml.NewArtifacts(version, a.Model, a.Scaler, a.Metrics)
	model, scaler, err := ml.EncodeArtifacts(stamped)
	if err != nil {
		return "", err
	}
	if err := s.Install(ctx, version, model, scaler); err != nil {
		return "", err
	}
	a.Version = version

	s.log.Info("model saved",
		logger.String("version", version),
		logger.String("path", s.Path(version)),
		logger.Int("trees", len(a.Model.Trees)),
	)
	return version, nil
}

// Install validates an encoded pair and places it under version. It fails
// if the version already exists.
func (s *FSModelStore) Install(ctx context.Context, version string, model, scaler []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, err := ml.DecodeArtifacts(model, scaler)
	if err != nil {
		return err
	}
	if a.Version != version {
		return fmt.Errorf("%w: artifacts are %q, want %q", models.ErrArtifactMismatch, a.Version, version)
	}

	final := s.Path(version)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("version %s already exists", version)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	tmp, err := os.MkdirTemp(s.root, ".tmp-"+version+"-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp) // no-op after a successful rename

	if err := writeFileSync(filepath.Join(tmp, ModelFile), model); err != nil {
		return err
	}
	if err := writeFileSync(filepath.Join(tmp, ScalerFile), scaler); err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish version %s: %w", version, err)
	}
	syncDir(s.root)
	return nil
}

// Load reads a version, "" or "latest" meaning the newest.
func (s *FSModelStore) Load(ctx context.Context, version string) (*ml.Artifacts, error) {
	if version == "" || version == "latest" {
		versions, err := s.Versions(ctx)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, fmt.Errorf("%w in %s", ErrNoVersions, s.root)
		}
		version = versions[len(versions)-1]
	}

	model, scaler, err := s.ReadFiles(version)
	if err != nil {
		return nil, err
	}
	a, err := ml.DecodeArtifacts(model, scaler)
	if err != nil {
		return nil, fmt.Errorf("load version %s: %w", version, err)
	}
	if a.Version != version {
		return nil, fmt.Errorf("%w: directory %s holds %q", models.ErrArtifactMismatch, version, a.Version)
	}
	return a, nil
}

// ReadFiles returns the raw artifact bytes of version.
func (s *FSModelStore) ReadFiles(version string) (model, scaler []byte, err error) {
	dir := s.Path(version)
	model, err = os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read model: %w", err)
	}
	scaler, err = os.ReadFile(filepath.Join(dir, ScalerFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read scaler: %w", err)
	}
	return model, scaler, nil
}

// Versions lists complete versions, oldest first.
func (s *FSModelStore) Versions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list model dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && util.IsVersion(e.Name()) {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// nextVersion is the current UTC second, bumped past existing versions.
func (s *FSModelStore) nextVersion() string {
	t := s.now().UTC().Truncate(time.Second)
	for {
		v := util.FormatVersion(t)
		if _, err := os.Stat(s.Path(v)); errors.Is(err, os.ErrNotExist) {
			return v
		}
		t = t.Add(time.Second)
	}
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// syncDir persists the rename. Some filesystems refuse directory fsync.
func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
}
