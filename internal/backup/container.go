// Package backup provides a read-only view over a device backup container
// and resolves logical identities to the files stored inside it.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/starford/perthro/internal/apperr"
	"github.com/starford/perthro/internal/models"
	"github.com/starford/perthro/internal/storage"
)

// Layout identifies how a container names its files.
type Layout int

const (
	// Legacy containers store each file under the SHA-1 of "<domain>-<path>".
	Legacy Layout = iota
	// ManifestBased containers map identities to storage IDs in Manifest.db.
	ManifestBased
)

func (l Layout) String() string {
	switch l {
	case Legacy:
		return "legacy"
	case ManifestBased:
		return "manifest"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// Location is where a resolved identity lives inside the container.
type Location struct {
	StorageID string `json:"storage_id"`
	Path      string `json:"path"`
}

// Container is a read-only view over a backup directory. It is never
// mutated after construction except for the one-time manifest index
// build; rebuild the Container if the directory changes.
type Container struct {
	root         string
	layout       Layout
	descriptor   Descriptor
	manifestPath string
	reader       Reader
	logger       *slog.Logger

	indexOnce sync.Once
	index     *manifestIndex
	indexErr  error
}

// Option configures a Container.
type Option func(*Container)

// WithReader sets the reader used to open stored files. Encrypted
// containers need a decrypting reader.
func WithReader(r Reader) Option {
	return func(c *Container) { c.reader = r }
}

// WithManifestPath points the container at a readable copy of Manifest.db,
// for example one produced by a decrypting collaborator.
func WithManifestPath(path string) Option {
	return func(c *Container) { c.manifestPath = path }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// Open inspects root and returns a container for it.
func Open(root string, opts ...Option) (*Container, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("backup: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("backup: %s: %w", root, apperr.ErrNotABackup)
	}

	hasDescriptor := isFile(filepath.Join(abs, ManifestPlist))
	hasManifest := isFile(filepath.Join(abs, ManifestDB))
	hasInfo := isFile(filepath.Join(abs, InfoPlist))
	if !hasDescriptor && !hasManifest && !hasInfo {
		return nil, fmt.Errorf("backup: %s has no descriptor: %w", root, apperr.ErrNotABackup)
	}

	c := &Container{root: abs, logger: slog.Default()}
	if hasDescriptor {
		d, err := readDescriptor(filepath.Join(abs, ManifestPlist))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrNotABackup, err)
		}
		c.descriptor = d
	}
	if hasManifest || c.descriptor.IsEncrypted {
		c.layout = ManifestBased
		c.manifestPath = filepath.Join(abs, ManifestDB)
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.reader == nil {
		c.reader = NewFSReader(abs, c.descriptor.IsEncrypted)
	}

	c.logger.Debug("backup: opened",
		slog.String("root", abs),
		slog.String("layout", c.layout.String()),
		slog.Bool("encrypted", c.descriptor.IsEncrypted))
	return c, nil
}

// Root returns the absolute container directory.
func (c *Container) Root() string { return c.root }

// Layout returns the container layout.
func (c *Container) Layout() Layout { return c.layout }

// Encrypted reports whether the descriptor declares encryption.
func (c *Container) Encrypted() bool { return c.descriptor.IsEncrypted }

// Descriptor returns the parsed Manifest.plist.
func (c *Container) Descriptor() Descriptor { return c.descriptor }

// DeviceInfo reads the device description from Info.plist, falling back to
// the identifiers embedded in Manifest.plist.
func (c *Container) DeviceInfo() (models.DeviceInfo, error) {
	info, err := readDeviceInfo(filepath.Join(c.root, InfoPlist))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return models.DeviceInfo{}, err
	}
	ld := c.descriptor.Lockdown
	if info.DeviceName == "" {
		info.DeviceName = ld.DeviceName
	}
	if info.ProductType == "" {
		info.ProductType = ld.ProductType
	}
	if info.IOSVersion == "" {
		info.IOSVersion = ld.ProductVersion
	}
	if info.SerialNumber == "" {
		info.SerialNumber = ld.SerialNumber
	}
	return info, nil
}

// BuildIndex reads the manifest database once. Later calls return the
// result of the first. Call it before resolving from several goroutines.
func (c *Container) BuildIndex(ctx context.Context) error {
	if c.layout != ManifestBased {
		return nil
	}
	c.indexOnce.Do(func() {
		c.index, c.indexErr = loadManifestIndex(ctx, c.manifestPath)
		if c.indexErr == nil {
			c.logger.Debug("backup: manifest indexed", slog.Int("entries", c.index.len()))
		}
	})
	return c.indexErr
}

// Resolve locates id inside the container without reading it.
func (c *Container) Resolve(ctx context.Context, id models.Identity) (Location, error) {
	addr, err := id.Address()
	if err != nil {
		return Location{}, fmt.Errorf("backup: resolve: %w", err)
	}

	if c.layout == Legacy {
		p := storagePath(c.root, addr)
		if p == "" {
			return Location{}, fmt.Errorf("backup: resolve %s: %w", id, apperr.ErrNotFound)
		}
		return Location{StorageID: addr, Path: p}, nil
	}

	if err := c.BuildIndex(ctx); err != nil {
		return Location{}, fmt.Errorf("backup: resolve %s: %w", id, err)
	}
	e, ok := c.index.lookup(addr)
	if !ok {
		return Location{}, fmt.Errorf("backup: resolve %s: %w", id, apperr.ErrNotFound)
	}
	return Location{StorageID: e.StorageID, Path: c.physicalPath(e.StorageID)}, nil
}

// Lookup returns the manifest entry for id.
func (c *Container) Lookup(ctx context.Context, id models.Identity) (ManifestEntry, error) {
	if c.layout != ManifestBased {
		return ManifestEntry{}, fmt.Errorf("backup: lookup %s: no manifest: %w", id, apperr.ErrNotFound)
	}
	addr, err := id.Address()
	if err != nil {
		return ManifestEntry{}, fmt.Errorf("backup: lookup: %w", err)
	}
	if err := c.BuildIndex(ctx); err != nil {
		return ManifestEntry{}, err
	}
	e, ok := c.index.lookup(addr)
	if !ok {
		return ManifestEntry{}, fmt.Errorf("backup: lookup %s: %w", id, apperr.ErrNotFound)
	}
	return e, nil
}

// QueryManifest queries the manifest database directly, bypassing the
// cached index, and returns the storage ID of id.
func (c *Container) QueryManifest(ctx context.Context, id models.Identity) (string, error) {
	if c.layout != ManifestBased {
		return "", fmt.Errorf("backup: query %s: no manifest: %w", id, apperr.ErrNotFound)
	}
	return queryManifest(ctx, c.manifestPath, id)
}

// ExtractTo copies the file stored under storageID into out as name.
// A missing entry wraps apperr.ErrNotFound, a failing reader is reported
// as *storage.SourceError and a failing destination wraps apperr.ErrIO.
func (c *Container) ExtractTo(ctx context.Context, storageID string, out storage.Provider, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rc, err := c.reader.Open(ctx, storageID)
	if err != nil {
		if errors.Is(err, ErrMissingEntry) {
			return 0, fmt.Errorf("backup: extract %s: %w: %w", storageID, apperr.ErrNotFound, err)
		}
		return 0, &storage.SourceError{Err: err}
	}
	defer rc.Close()
	return out.WriteFrom(name, rc)
}

func (c *Container) physicalPath(storageID string) string {
	if p := storagePath(c.root, storageID); p != "" {
		return p
	}
	return defaultStoragePath(c.root, storageID)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
