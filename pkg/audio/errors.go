package audio

import (
	"errors"
	"fmt"
)

// Device error classes. Use [errors.Is] against these to classify an error
// returned by a capture or playback initialisation.
var (
	// ErrPermissionDenied means the user or the OS refused microphone access.
	// Not retryable without new user consent.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceNotFound means no matching capture or playback hardware exists.
	ErrDeviceNotFound = errors.New("audio: device not found")

	// ErrDeviceBusy means the device exists but is claimed by another consumer.
	ErrDeviceBusy = errors.New("audio: device busy")

	// ErrUnsupportedPlatform means the host lacks the required audio
	// processing primitives. Fatal for the session.
	ErrUnsupportedPlatform = errors.New("audio: unsupported platform")

	// ErrDecodeFailure marks a received packet that could not be turned into
	// playable audio. Playback recovers from it locally.
	ErrDecodeFailure = errors.New("audio: decode failure")
)

// DeviceError describes a failed device operation together with its class.
type DeviceError struct {
	// Kind is one of the Err* class sentinels above.
	Kind error

	// Op names the failed operation, e.g. "open input".
	Op string

	// Device is the host device name, if known.
	Device string

	// Err is the underlying host error. May be nil.
	Err error
}

// NewDeviceError builds a [DeviceError]. kind should be one of the class sentinels.
func NewDeviceError(kind error, op, device string, err error) *DeviceError {
	return &DeviceError{Kind: kind, Op: op, Device: device, Err: err}
}

func (e *DeviceError) Error() string {
	s := e.Kind.Error() + ": " + e.Op
	if e.Device != "" {
		s += fmt.Sprintf(" (%s)", e.Device)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the class and the host cause to [errors.Is].
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// UserMessage returns a short sentence suitable for showing to an end user.
func (e *DeviceError) UserMessage() string {
	return UserMessage(e)
}

// Retryable reports whether the operation may succeed after user intervention
// (plugging in a device, closing another application) without new consent.
func (e *DeviceError) Retryable() bool {
	return errors.Is(e.Kind, ErrDeviceNotFound) || errors.Is(e.Kind, ErrDeviceBusy)
}

// UserMessage maps any error to a user-presentable sentence. Unclassified
// errors get a generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone access was denied. Allow microphone access and try again."
	case errors.Is(err, ErrDeviceNotFound):
		return "No microphone was found. Connect a microphone and try again."
	case errors.Is(err, ErrDeviceBusy):
		return "The microphone is in use by another application. Close it and try again."
	case errors.Is(err, ErrUnsupportedPlatform):
		return "Audio capture is not supported on this system."
	default:
		return "The audio device could not be started."
	}
}

// KindName returns a stable metric/log label for the class of err.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceNotFound):
		return "device_not_found"
	case errors.Is(err, ErrDeviceBusy):
		return "device_busy"
	case errors.Is(err, ErrUnsupportedPlatform):
		return "unsupported_platform"
	case errors.Is(err, ErrDecodeFailure):
		return "decode_failure"
	default:
		return "unknown"
	}
}
