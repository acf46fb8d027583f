package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// LatestVersion is the symbolic pointer to the newest version of a secret.
const LatestVersion = "latest"

var secretNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// SecretVersionState is the lifecycle state of a single version.
type SecretVersionState string

const (
	SecretVersionEnabled   SecretVersionState = "enabled"
	SecretVersionDisabled  SecretVersionState = "disabled"
	SecretVersionDestroyed SecretVersionState = "destroyed"
)

// SecretVersion is one immutable payload within a named secret.
// The payload bytes are never part of this type.
type SecretVersion struct {
	// Name of the secret this version belongs to
	Name string `json:"name" yaml:"name"`

	// ID is the version identifier, "1", "2", ...
	ID string `json:"id" yaml:"id"`

	// State of the version
	State SecretVersionState `json:"state" yaml:"state"`

	// Creation timestamp
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// Ref returns a reference pinned to this version.
func (v SecretVersion) Ref() SecretRef {
	return SecretRef{Name: v.Name, Version: v.ID}
}

// SecretRecord is a named secret with an append-only ordered list of versions.
type SecretRecord struct {
	// Name of the secret
	Name string `json:"name" yaml:"name"`

	// Creation timestamp
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// Versions, oldest first
	Versions []SecretVersion `json:"versions,omitempty" yaml:"versions,omitempty"`
}

// Latest returns the newest version.
func (r *SecretRecord) Latest() (SecretVersion, bool) {
	if r == nil || len(r.Versions) == 0 {
		return SecretVersion{}, false
	}
	return r.Versions[len(r.Versions)-1], true
}

// Version resolves an explicit id or "latest".
func (r *SecretRecord) Version(id string) (SecretVersion, bool) {
	if id == "" || id == LatestVersion {
		return r.Latest()
	}
	if r == nil {
		return SecretVersion{}, false
	}
	for _, v := range r.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return SecretVersion{}, false
}

// SecretRef is how a consumer points at a secret version.
type SecretRef struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// NewSecretRef returns a reference to the latest version of name.
func NewSecretRef(name string) SecretRef {
	return SecretRef{Name: name, Version: LatestVersion}
}

// ParseSecretRef parses "name" or "name:version".
func ParseSecretRef(s string) (SecretRef, error) {
	name, version, _ := strings.Cut(strings.TrimSpace(s), ":")
	ref := SecretRef{Name: name, Version: version}
	if ref.Version == "" {
		ref.Version = LatestVersion
	}
	return ref, ref.Validate()
}

// String returns name:version.
func (r SecretRef) String() string {
	v := r.Version
	if v == "" {
		v = LatestVersion
	}
	return r.Name + ":" + v
}

// Validate checks the secret name and version id.
func (r SecretRef) Validate() error {
	if err := ValidateSecretName(r.Name); err != nil {
		return err
	}
	if r.Version != "" && r.Version != LatestVersion {
		for _, c := range r.Version {
			if c < '0' || c > '9' {
				return NewValidationError(fmt.Sprintf("secret version %q must be %q or a number", r.Version, LatestVersion))
			}
		}
	}
	return nil
}

// ValidateSecretName checks a secret name against the store's naming rules.
func ValidateSecretName(name string) error {
	if !secretNamePattern.MatchString(name) {
		return NewValidationError(fmt.Sprintf("invalid secret name %q: use 1-255 letters, digits, '-' or '_'", name))
	}
	return nil
}
