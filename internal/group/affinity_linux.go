//go:build linux

package group

import "golang.org/x/sys/unix"

// pinThread binds the calling OS thread to one logical CPU core. The
// caller must hold runtime.LockOSThread for the pin to stick to this
// goroutine.
func pinThread(lcore int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(lcore)
	return unix.SchedSetaffinity(0, &set)
}
