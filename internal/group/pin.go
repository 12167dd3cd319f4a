package group

import "runtime"

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to the given lcore. Used by binaries to pin their main loop.
func PinCurrentThread(lcore int) error {
	runtime.LockOSThread()
	return pinThread(lcore)
}
