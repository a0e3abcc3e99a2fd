package editor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/sanonone/wayfinder/pkg/manifest"
	"github.com/sanonone/wayfinder/pkg/metrics"
)

// ErrNoManifest is returned when a venue has never been published.
var ErrNoManifest = errors.New("no published manifest")

// ErrInvalidVenue is returned for venue ids that cannot name a directory.
var ErrInvalidVenue = errors.New("invalid venue id")

var venueValidate = validator.New()

// Archive stores published manifests as
// <dir>/<venueID>/<generatedAt>-<manifestId>.json. Names sort in publish
// order, so the newest file is the current manifest. Files are never
// rewritten, which lets Latest cache the decoded manifest per venue.
type Archive struct {
	dir string

	mu    sync.Mutex
	cache map[string]cachedManifest
}

type cachedManifest struct {
	path string
	m    *manifest.Manifest
	data []byte
}

// ArchiveDir is where a workspace rooted at dataDir keeps its manifests.
func ArchiveDir(dataDir string) string { return filepath.Join(dataDir, "manifests") }

func NewArchive(dir string) *Archive {
	return &Archive{dir: dir, cache: make(map[string]cachedManifest)}
}

func (a *Archive) Dir() string { return a.dir }

// ValidateVenueID rejects ids that are empty or would escape the archive.
func ValidateVenueID(venueID string) error {
	if err := venueValidate.Var(venueID, "required,max=128,printascii,excludesall=/\\"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidVenue, venueID)
	}
	if venueID == "." || venueID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidVenue, venueID)
	}
	return nil
}

func fileName(doc *manifest.Document) string {
	return doc.GeneratedAt.UTC().Format("20060102T150405.000000000Z") + "-" + doc.ManifestID + ".json"
}

// Write stores doc and returns its path. The file appears atomically.
func (a *Archive) Write(doc *manifest.Document) (string, error) {
	if err := ValidateVenueID(doc.VenueID); err != nil {
		return "", err
	}
	data, err := manifest.Marshal(doc)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(a.dir, doc.VenueID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	path := filepath.Join(dir, fileName(doc))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to publish manifest: %w", err)
	}
	metrics.ManifestsPublished.WithLabelValues(doc.VenueID).Inc()
	return path, nil
}

// List returns the manifest paths of a venue, oldest first.
func (a *Archive) List(venueID string) ([]string, error) {
	if err := ValidateVenueID(venueID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(a.dir, venueID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(a.dir, venueID, e.Name()))
	}
	slices.Sort(paths)
	return paths, nil
}

func (a *Archive) latestPath(venueID string) (string, error) {
	paths, err := a.List(venueID)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("%w for venue %q", ErrNoManifest, venueID)
	}
	return paths[len(paths)-1], nil
}

// Latest decodes the newest manifest of a venue. The result is shared
// between callers; its graph is frozen.
func (a *Archive) Latest(venueID string) (*manifest.Manifest, error) {
	c, err := a.latest(venueID)
	if err != nil {
		return nil, err
	}
	return c.m, nil
}

// LatestRaw returns the newest manifest of a venue together with the exact
// bytes it was decoded from.
func (a *Archive) LatestRaw(venueID string) (*manifest.Manifest, []byte, error) {
	c, err := a.latest(venueID)
	if err != nil {
		return nil, nil, err
	}
	return c.m, c.data, nil
}

func (a *Archive) latest(venueID string) (cachedManifest, error) {
	path, err := a.latestPath(venueID)
	if err != nil {
		return cachedManifest{}, err
	}

	a.mu.Lock()
	c, ok := a.cache[venueID]
	a.mu.Unlock()
	if ok && c.path == path {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cachedManifest{}, err
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return cachedManifest{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	c = cachedManifest{path: path, m: m, data: data}
	a.mu.Lock()
	a.cache[venueID] = c
	a.mu.Unlock()
	return c, nil
}

// Venues lists every venue with at least one directory in the archive.
func (a *Archive) Venues() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var venues []string
	for _, e := range entries {
		if e.IsDir() {
			venues = append(venues, e.Name())
		}
	}
	return venues, nil
}
