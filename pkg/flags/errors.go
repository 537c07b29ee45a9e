package flags

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies the coordinator errors named in spec §7.
type Kind string

const (
	KindUnsupported              Kind = "unsupported"
	KindMigrationCrash           Kind = "migration_fun_crash"
	KindInvalidMigrationFun      Kind = "invalid_migration_fun"
	KindIncompatibleFeatureFlags Kind = "incompatible_feature_flags"
	KindPeerUnreachable          Kind = "peer_unreachable"
)

// Sentinel errors for errors.Is comparisons against CoordinatorError.Kind.
var (
	ErrUnsupported              = &CoordinatorError{Kind: KindUnsupported}
	ErrIncompatibleFeatureFlags = &CoordinatorError{Kind: KindIncompatibleFeatureFlags}
)

// CoordinatorError is the idiomatic-Go shape of spec §7's tagged-tuple
// error kinds: a classification callers can switch on or match with
// errors.Is, plus the underlying detail for logging.
type CoordinatorError struct {
	Kind   Kind
	Flag   Name
	Reason error
	Trace  uuid.UUID
}

func (e *CoordinatorError) Error() string {
	switch e.Kind {
	case KindMigrationCrash:
		return fmt.Sprintf("flags: migration for %q crashed (trace %s): %v", e.Flag, e.Trace, e.Reason)
	case KindInvalidMigrationFun:
		return fmt.Sprintf("flags: flag %q declares a migration with no registered function", e.Flag)
	case KindUnsupported:
		return fmt.Sprintf("flags: %q is not supported by every running peer", e.Flag)
	case KindIncompatibleFeatureFlags:
		return fmt.Sprintf("flags: incompatible_feature_flags: %v", e.Reason)
	case KindPeerUnreachable:
		return fmt.Sprintf("flags: peer unreachable: %v", e.Reason)
	default:
		if e.Reason != nil {
			return e.Reason.Error()
		}
		return "flags: " + string(e.Kind)
	}
}

func (e *CoordinatorError) Unwrap() error {
	return e.Reason
}

// Is makes errors.Is(err, ErrUnsupported) and friends work by comparing
// only the Kind, not the full struct (the sentinel values above carry
// no Flag/Reason/Trace).
func (e *CoordinatorError) Is(target error) bool {
	other, ok := target.(*CoordinatorError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func unsupportedErr(name Name) error {
	return &CoordinatorError{Kind: KindUnsupported, Flag: name}
}

func migrationCrashErr(name Name, reason error) error {
	return &CoordinatorError{Kind: KindMigrationCrash, Flag: name, Reason: reason, Trace: uuid.New()}
}

func invalidMigrationFunErr(name Name) error {
	return &CoordinatorError{Kind: KindInvalidMigrationFun, Flag: name}
}

func incompatibleErr(reason error) error {
	return &CoordinatorError{Kind: KindIncompatibleFeatureFlags, Reason: reason}
}

// errors.As helper retained for callers that want the structured form
// without importing the errors package themselves.
func AsCoordinatorError(err error) (*CoordinatorError, bool) {
	var ce *CoordinatorError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
