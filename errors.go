package transgeo

import (
	"errors"
	"fmt"
)

// ErrInvalidOption is returned by option functions given out of range values.
type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

// ConfigError reports an unusable configuration value. It is raised before
// any manifest mutation happens.
type ConfigError struct {
	Field string
	msg   string
}

func (err *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", err.Field, err.msg)
}

// LabelParseError is returned when a filename matches none of the grammars
// of its kind. Callers skip the file.
type LabelParseError struct {
	Name    string
	Grammar string
}

func (err *LabelParseError) Error() string {
	return fmt.Sprintf("%s does not match %s label format", err.Name, err.Grammar)
}

// LayoutError is returned when a file sits in a directory layout that cannot
// be handled, e.g. a ground image whose size can neither be read from its
// parent directory nor probed.
type LayoutError struct {
	Path   string
	Reason string
}

func (err *LayoutError) Error() string {
	return fmt.Sprintf("%s: %s", err.Path, err.Reason)
}

// TransformError is returned when a geodetic coordinate cannot be mapped to
// the reference raster.
type TransformError struct {
	Lon, Lat float64
	Reason   string
}

func (err *TransformError) Error() string {
	return fmt.Sprintf("transform (%g,%g): %s", err.Lon, err.Lat, err.Reason)
}

// InvariantViolation means a manifest lost its bidirectional consistency.
// It is always a bug and aborts the run.
type InvariantViolation struct {
	Pass   string
	Detail string
}

func (err *InvariantViolation) Error() string {
	if err.Pass == "" {
		return "invariant violation: " + err.Detail
	}
	return fmt.Sprintf("invariant violation after %s: %s", err.Pass, err.Detail)
}

// IsSkip reports whether err only concerns a single input item that can be
// left out of the dataset.
func IsSkip(err error) bool {
	var lpe *LabelParseError
	var le *LayoutError
	return errors.As(err, &lpe) || errors.As(err, &le)
}
