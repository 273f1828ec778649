package masking

import "errors"

var (
	// ErrDetection is returned when the entity detector fails. Nothing is
	// written to the session store in that case.
	ErrDetection = errors.New("masking: entity detection failed")

	// ErrStorage is returned when the session store fails. Tokens minted
	// before the failure stay persisted.
	ErrStorage = errors.New("masking: session store failed")
)
