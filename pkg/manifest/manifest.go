// Package manifest holds widget plugin descriptors and the registry that owns them.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	aegiserrors "github.com/wehubfusion/Aegis/pkg/errors"
)

// Manifest describes a widget plugin and where to import it from.
type Manifest struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	Location          string   `json:"location"`
	Dependencies      []string `json:"dependencies,omitempty"`
	DeclaredSizeBytes *int64   `json:"declaredSizeBytes,omitempty"`
}

// idPattern validates widget ids read from manifest files.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// versionPattern accepts major.minor.patch with optional prerelease/build.
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// Validate performs the strict checks applied to manifests read from files.
// The registry itself only requires a non-empty id.
func (m Manifest) Validate() error {
	if m.ID == "" {
		return aegiserrors.InvalidManifest("", "id is required")
	}
	if !idPattern.MatchString(m.ID) {
		return aegiserrors.InvalidManifest(m.ID, "id must be lowercase alphanumeric with . _ -")
	}
	if m.Name == "" {
		return aegiserrors.InvalidManifest(m.ID, "name is required")
	}
	if !versionPattern.MatchString(m.Version) {
		return aegiserrors.InvalidManifest(m.ID, fmt.Sprintf("version %q is not valid semver", m.Version))
	}
	if strings.TrimSpace(m.Location) == "" {
		return aegiserrors.InvalidManifest(m.ID, "location is required")
	}
	if m.DeclaredSizeBytes != nil && *m.DeclaredSizeBytes < 0 {
		return aegiserrors.InvalidManifest(m.ID, "declaredSizeBytes must not be negative")
	}
	for _, dep := range m.Dependencies {
		if dep == m.ID {
			return aegiserrors.InvalidManifest(m.ID, "manifest depends on itself")
		}
		if dep == "" {
			return aegiserrors.InvalidManifest(m.ID, "empty dependency id")
		}
	}
	return nil
}

// clone returns a deep copy so callers cannot mutate registered state.
func (m Manifest) clone() Manifest {
	out := m
	if m.Dependencies != nil {
		out.Dependencies = make([]string, len(m.Dependencies))
		copy(out.Dependencies, m.Dependencies)
	}
	if m.DeclaredSizeBytes != nil {
		size := *m.DeclaredSizeBytes
		out.DeclaredSizeBytes = &size
	}
	return out
}

// LoadFile reads a JSON file containing a single manifest or an array of manifests.
// Every entry is validated.
func LoadFile(path string) ([]Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return Parse(data)
}

// Parse decodes one manifest object or an array of manifests and validates each.
func Parse(data []byte) ([]Manifest, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("manifest document is empty")
	}

	var manifests []Manifest
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &manifests); err != nil {
			return nil, fmt.Errorf("failed to parse manifests: %w", err)
		}
	} else {
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse manifest: %w", err)
		}
		manifests = []Manifest{m}
	}

	for i, m := range manifests {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("manifest %d: %w", i, err)
		}
	}
	return manifests, nil
}

// Size returns a pointer to n, for building manifests with a declared size.
func Size(n int64) *int64 {
	return &n
}
