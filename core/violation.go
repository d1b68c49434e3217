package core

import "fmt"

// ViolationKind classifies protocol violations. They are programming errors:
// code that detects one panics with a *ProtocolViolation.
type ViolationKind string

const (
	ViolationReleaseFree      ViolationKind = "release-free-lock"
	ViolationReleaseForeign   ViolationKind = "release-foreign-lock"
	ViolationRecursiveAcquire ViolationKind = "recursive-acquire"
	ViolationWakeRunning      ViolationKind = "wake-running-hart"
	ViolationStateRegression  ViolationKind = "state-regression"
	ViolationUseAfterRelease  ViolationKind = "use-after-release"
	ViolationForeignHLS       ViolationKind = "foreign-hls"
)

// ProtocolViolation describes a broken rendezvous or locking contract.
type ProtocolViolation struct {
	Kind   ViolationKind
	Hart   HartID
	Detail string
}

func (v *ProtocolViolation) Error() string {
	if v.Detail == "" {
		return fmt.Sprintf("protocol violation (%s) on %s", v.Kind, v.Hart.Label())
	}
	return fmt.Sprintf("protocol violation (%s) on %s: %s", v.Kind, v.Hart.Label(), v.Detail)
}

// Violate panics with a ProtocolViolation.
func Violate(kind ViolationKind, hart HartID, format string, args ...any) {
	panic(&ProtocolViolation{
		Kind:   kind,
		Hart:   hart,
		Detail: fmt.Sprintf(format, args...),
	})
}

// AsViolation extracts a ProtocolViolation from a recovered panic value.
func AsViolation(r any) (*ProtocolViolation, bool) {
	v, ok := r.(*ProtocolViolation)
	return v, ok
}
