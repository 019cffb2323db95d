//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

void requestMicrophonePermission() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

import "github.com/rs/zerolog"

// CheckMicrophone returns the current microphone permission status.
func CheckMicrophone() Status {
	return Status(C.checkMicrophonePermission())
}

// EnsureMicrophone returns nil when the microphone may be used. When the
// user has not been asked yet it triggers the system dialog and still
// returns ErrMicrophoneDenied: capture started before the answer records
// silence.
func EnsureMicrophone(log zerolog.Logger) error {
	status := CheckMicrophone()
	request, err := decide(status)
	if request {
		log.Warn().Msg("Microphone permission required, answer the system prompt and run again")
		C.requestMicrophonePermission()
	} else if err != nil {
		log.Warn().Stringer("status", status).
			Msg("Microphone access is blocked, allow it under System Settings > Privacy & Security > Microphone")
	}
	return err
}
