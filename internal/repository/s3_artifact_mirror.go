package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"

	"StockRisk/internal/domain/repository"
	"StockRisk/pkg/logger"
	"StockRisk/pkg/objectstore"
	"StockRisk/pkg/util"
)

// ObjectClient is the subset of objectstore.S3Client the mirror needs.
type ObjectClient interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	Download(ctx context.Context, key string, w io.WriterAt) (int64, error)
	List(ctx context.Context, prefix string) ([]objectstore.Object, error)
	Delete(ctx context.Context, key string) error
}

// S3ArtifactMirror copies model versions to and from a bucket under
// <prefix>/<version>/.
type S3ArtifactMirror struct {
	client ObjectClient
	store  *FSModelStore
	prefix string
	keep   int
	log    *logger.Logger
}

var _ repository.ArtifactMirror = (*S3ArtifactMirror)(nil)

// NewS3ArtifactMirror keeps at most keep versions remotely; keep <= 0
// disables pruning.
func NewS3ArtifactMirror(client ObjectClient, store *FSModelStore, prefix string, keep int, lgr *logger.Logger) *S3ArtifactMirror {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &S3ArtifactMirror{
		client: client,
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		keep:   keep,
		log:    lgr,
	}
}

// Publish uploads both artifacts of a local version. The model goes last so
// a listed model key implies a complete version.
func (m *S3ArtifactMirror) Publish(ctx context.Context, version string) error {
	model, scaler, err := m.store.ReadFiles(version)
	if err != nil {
		return err
	}
	if err := m.client.Upload(ctx, m.key(version, ScalerFile), bytes.NewReader(scaler)); err != nil {
		return fmt.Errorf("upload scaler: %w", err)
	}
	if err := m.client.Upload(ctx, m.key(version, ModelFile), bytes.NewReader(model)); err != nil {
		return fmt.Errorf("upload model: %w", err)
	}
	m.log.Info("model published", logger.String("version", version), logger.String("prefix", m.prefix))
	return m.Prune(ctx)
}

// Fetch downloads version ("" or "latest" for the newest remote one) into
// the local store and returns the version installed. A version already
// present locally is left untouched.
func (m *S3ArtifactMirror) Fetch(ctx context.Context, version string) (string, error) {
	if version == "" || version == "latest" {
		versions, err := m.remoteVersions(ctx)
		if err != nil {
			return "", err
		}
		if len(versions) == 0 {
			return "", fmt.Errorf("%w under %q", ErrNoVersions, m.prefix)
		}
		version = versions[len(versions)-1]
	}

	local, err := m.store.Versions(ctx)
	if err != nil {
		return "", err
	}
	if slices.Contains(local, version) {
		return version, nil
	}

	model, err := m.download(ctx, m.key(version, ModelFile))
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	scaler, err := m.download(ctx, m.key(version, ScalerFile))
	if err != nil {
		return "", fmt.Errorf("download scaler: %w", err)
	}
	if err := m.store.Install(ctx, version, model, scaler); err != nil {
		return "", err
	}
	m.log.Info("model fetched", logger.String("version", version))
	return version, nil
}

// Prune deletes all but the newest keep remote versions.
func (m *S3ArtifactMirror) Prune(ctx context.Context) error {
	if m.keep <= 0 {
		return nil
	}
	versions, err := m.remoteVersions(ctx)
	if err != nil {
		return err
	}
	if len(versions) <= m.keep {
		return nil
	}
	for _, v := range versions[:len(versions)-m.keep] {
		for _, name := range []string{ModelFile, ScalerFile} {
			if err := m.client.Delete(ctx, m.key(v, name)); err != nil {
				return fmt.Errorf("prune %s: %w", v, err)
			}
		}
		m.log.Debug("pruned remote model", logger.String("version", v))
	}
	return nil
}

func (m *S3ArtifactMirror) download(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := m.client.Download(ctx, key, buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// remoteVersions lists versions with a model object, oldest first.
func (m *S3ArtifactMirror) remoteVersions(ctx context.Context) ([]string, error) {
	root := ""
	if m.prefix != "" {
		root = m.prefix + "/"
	}
	objs, err := m.client.List(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("list remote models: %w", err)
	}
	var out []string
	for _, o := range objs {
		dir, file := path.Split(strings.TrimPrefix(o.Key, root))
		v := strings.TrimSuffix(dir, "/")
		if file == ModelFile && util.IsVersion(v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (m *S3ArtifactMirror) key(version, file string) string {
	if m.prefix == "" {
		return version + "/" + file
	}
	return m.prefix + "/" + version + "/" + file
}
