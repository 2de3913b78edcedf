package vecenv

import (
	"errors"
)

var (
	// ErrConfiguration reports player, partner or resample settings that can
	// never work. It is returned at construction or registration time.
	ErrConfiguration = errors.New("vecenv: invalid configuration")
	// ErrIndex reports a partner id or player number that does not address a
	// partner slot.
	ErrIndex = errors.New("vecenv: index out of range")
	// ErrState reports calls made in the wrong lifecycle state.
	ErrState = errors.New("vecenv: invalid state")
)
