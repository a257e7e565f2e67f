package config

import "fmt"

// CurrentVersion is the configuration file version this build reads.
// Files that omit version are treated as current.
const CurrentVersion = 1

// VersionError reports a config file written for another build.
type VersionError struct {
	Version int
	Current int
}

// Newer reports whether the file targets a later build.
func (e *VersionError) Newer() bool {
	return e != nil && e.Version > e.Current
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Newer() {
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade visiontask", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is not supported (current: %d)", e.Version, e.Current)
}

// ValidateVersion accepts only CurrentVersion.
func ValidateVersion(version int) error {
	if version != CurrentVersion {
		return &VersionError{Version: version, Current: CurrentVersion}
	}
	return nil
}
