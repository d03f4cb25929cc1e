package gridlink

import "errors"

// Configuration-time faults raised by the create entry points.
var (
	// ErrUnknownAdaptor indicates an adaptor name nothing registered.
	ErrUnknownAdaptor = errors.New("unknown adaptor")

	// ErrInvalidLocation indicates a location string the adaptor rejects.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidCredential indicates a credential type the adaptor cannot
	// use.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnknownProperty indicates a property key the adaptor does not
	// define.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrInvalidProperty indicates a property value that fails to parse.
	ErrInvalidProperty = errors.New("invalid property")
)
