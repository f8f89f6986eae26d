package registration

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMethod is returned for an unrecognised algorithm name.
var ErrUnknownMethod = errors.New("unknown registration method")

// Method selects a registration algorithm.
type Method int

const (
	// MethodICP is iterative closest point with closed-form rigid updates.
	MethodICP Method = iota
	// MethodNDT is the normal distributions transform.
	MethodNDT
)

func (m Method) String() string {
	switch m {
	case MethodICP:
		return "icp"
	case MethodNDT:
		return "ndt"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod maps "icp" or "ndt" (case-insensitive) to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "icp":
		return MethodICP, nil
	case "ndt":
		return MethodNDT, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}
