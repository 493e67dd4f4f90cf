package portaudio

import (
	"errors"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxlink/pkg/audio"
)

// classify wraps a PortAudio failure in an [audio.DeviceError] whose kind is
// one of the audio.Err* sentinels. Host errors carry no portable permission
// code, so their text is inspected for the usual OS wording.
func classify(op, device string, err error) error {
	if err == nil {
		return nil
	}
	return audio.NewDeviceError(kindOf(err), op, device, err)
}

func kindOf(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"),
		strings.Contains(msg, "denied"),
		strings.Contains(msg, "not permitted"):
		return audio.ErrPermissionDenied
	case strings.Contains(msg, "busy"):
		return audio.ErrDeviceBusy
	}

	var perr portaudio.Error
	if errors.As(err, &perr) {
		switch perr {
		case portaudio.DeviceUnavailable:
			return audio.ErrDeviceBusy
		case portaudio.InvalidDevice,
			portaudio.NoDefaultInputDevice,
			portaudio.NoDefaultOutputDevice:
			return audio.ErrDeviceNotFound
		case portaudio.NotInitialized,
			portaudio.HostApiNotFound,
			portaudio.InvalidSampleRate,
			portaudio.InvalidChannelCount,
			portaudio.SampleFormatNotSupported:
			return audio.ErrUnsupportedPlatform
		}
	}
	if errors.Is(err, errNoDevice) {
		return audio.ErrDeviceNotFound
	}
	return audio.ErrDeviceBusy
}
