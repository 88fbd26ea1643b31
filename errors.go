package espflash

import "fmt"

// Kind categorizes a Fault so callers can branch on failure class without
// string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindPortUnavailable
	KindSyncTimeout
	KindUnknownChip
	KindProtocolFrameInvalid
	KindDeviceStatusNonZero
	KindChecksumMismatch
	KindMd5Mismatch
	KindStubUploadFailed
	KindRebaudFailed
	KindFlashWriteExhausted
	KindSpiControllerStuck
)

func (k Kind) String() string {
	switch k {
	case KindPortUnavailable:
		return "port unavailable"
	case KindSyncTimeout:
		return "sync timeout"
	case KindUnknownChip:
		return "unknown chip"
	case KindProtocolFrameInvalid:
		return "protocol frame invalid"
	case KindDeviceStatusNonZero:
		return "device status non-zero"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindMd5Mismatch:
		return "md5 mismatch"
	case KindStubUploadFailed:
		return "stub upload failed"
	case KindRebaudFailed:
		return "rebaud failed"
	case KindFlashWriteExhausted:
		return "flash write exhausted"
	case KindSpiControllerStuck:
		return "spi controller stuck"
	default:
		return "unknown"
	}
}

// Fault is the root package's error type. It carries a Kind so callers can
// switch on failure class, and wraps the lower-level cause the way the
// teacher's Error/wrapErr pair does. The subpackages return plain errors;
// some Session methods wrap those in a Fault and others return them as is.
type Fault struct {
	Kind Kind
	msg  string
	err  error
}

func (f *Fault) Error() string {
	if f.msg != "" {
		if f.err != nil {
			return fmt.Sprintf("%s: %s: %s", f.Kind, f.msg, f.err.Error())
		}
		return fmt.Sprintf("%s: %s", f.Kind, f.msg)
	}
	if f.err != nil {
		return fmt.Sprintf("%s: %s", f.Kind, f.err.Error())
	}
	return f.Kind.String()
}

func (f *Fault) Unwrap() error {
	return f.err
}

// Fail builds a new Fault of the given kind, wrapping cause (which may be
// nil).
func Fail(kind Kind, msg string, cause error) error {
	return &Fault{Kind: kind, msg: msg, err: cause}
}

// Is reports whether err is a Fault of the given kind, unwrapping through
// any wrapper chain.
func Is(err error, kind Kind) bool {
	for err != nil {
		if f, ok := err.(*Fault); ok {
			return f.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
