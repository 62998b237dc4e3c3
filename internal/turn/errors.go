package turn

import "github.com/pkg/errors"

// ErrInvalidRequest is the one failure class §7 allows to surface as a
// non-200 HTTP response; every other failure is converted to a con/end
// frame instead.
var ErrInvalidRequest = errors.New("turn: invalid request")
