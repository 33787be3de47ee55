package manifest

import "errors"

var (
	// ErrNotFound is returned when a manifest or the CURRENT pointer does
	// not exist.
	ErrNotFound = errors.New("manifest not found")

	// ErrBuildExists is returned by Save when the build already has a
	// manifest.
	ErrBuildExists = errors.New("manifest already exists")

	// ErrChecksum is returned when the payload checksum does not match.
	ErrChecksum = errors.New("manifest checksum mismatch")

	// ErrIncompatibleVersion is returned when the manifest version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrInvalidName is returned for repository or build names that cannot
	// be used as a path element.
	ErrInvalidName = errors.New("invalid manifest name")

	// ErrCurrentBuild is returned by Delete for the build CURRENT points to.
	ErrCurrentBuild = errors.New("build is current")
)
