package types

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// DefaultImageTag is used when a reference names no tag and no digest.
const DefaultImageTag = "latest"

// ImageReference is a fully qualified registry path plus tag, and the digest once pushed.
type ImageReference struct {
	// Registry host, e.g. gcr.io or us-central1-docker.pkg.dev
	Registry string `json:"registry" yaml:"registry"`

	// Repository path within the registry, e.g. biso-event/ai-content-service
	Repository string `json:"repository" yaml:"repository"`

	// Tag is a mutable pointer; a rebuild reuses it
	Tag string `json:"tag,omitempty" yaml:"tag,omitempty"`

	// Digest is the immutable content address, set after a confirmed push
	Digest string `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// ParseImageReference parses and normalizes an image reference string.
func ParseImageReference(s string) (ImageReference, error) {
	named, err := reference.ParseNormalizedNamed(strings.TrimSpace(s))
	if err != nil {
		return ImageReference{}, NewValidationError(fmt.Sprintf("invalid image reference %q: %v", s, err))
	}

	ref := ImageReference{
		Registry:   reference.Domain(named),
		Repository: reference.Path(named),
	}
	if tagged, ok := named.(reference.Tagged); ok {
		ref.Tag = tagged.Tag()
	}
	if digested, ok := named.(reference.Digested); ok {
		ref.Digest = digested.Digest().String()
	}
	if ref.Tag == "" && ref.Digest == "" {
		ref.Tag = DefaultImageTag
	}
	return ref, nil
}

// NewImageReference builds a reference from its parts, e.g. ("gcr.io", "biso-event", "api", "latest").
func NewImageReference(registry string, path []string, tag string) (ImageReference, error) {
	var parts []string
	for _, p := range path {
		p = strings.Trim(p, "/")
		if p != "" {
			parts = append(parts, p)
		}
	}
	if tag == "" {
		tag = DefaultImageTag
	}
	return ParseImageReference(fmt.Sprintf("%s/%s:%s", strings.TrimSuffix(registry, "/"), strings.Join(parts, "/"), tag))
}

// Name returns registry/repository without tag or digest.
func (r ImageReference) Name() string {
	if r.Registry == "" {
		return r.Repository
	}
	return r.Registry + "/" + r.Repository
}

// String returns the tagged form used for build and push.
func (r ImageReference) String() string {
	if r.Tag != "" {
		return r.Name() + ":" + r.Tag
	}
	if r.Digest != "" {
		return r.Name() + "@" + r.Digest
	}
	return r.Name()
}

// Pinned returns registry/repository@digest, or "" if the digest is unknown.
func (r ImageReference) Pinned() string {
	if r.Digest == "" {
		return ""
	}
	return r.Name() + "@" + r.Digest
}

// IsPinned reports whether the push has been confirmed by a digest.
func (r ImageReference) IsPinned() bool {
	return r.Digest != ""
}

// WithDigest returns a copy of the reference pinned to digest.
func (r ImageReference) WithDigest(digest string) ImageReference {
	r.Digest = digest
	return r
}

// Validate checks that the reference is complete.
func (r ImageReference) Validate() error {
	if r.Registry == "" || r.Repository == "" {
		return NewValidationError("image reference must name a registry and repository")
	}
	if _, err := reference.ParseNormalizedNamed(r.String()); err != nil {
		return NewValidationError(fmt.Sprintf("invalid image reference %q: %v", r.String(), err))
	}
	return nil
}
