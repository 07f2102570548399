package description

import "errors"

// Domain errors for device descriptions.
var (
	// ErrRead is returned when the description file cannot be read.
	ErrRead = errors.New("description: read failed")

	// ErrParse is returned when the description is not valid YAML.
	ErrParse = errors.New("description: parse failed")

	// ErrInvalid is returned when the description fails validation.
	ErrInvalid = errors.New("description: invalid")
)
