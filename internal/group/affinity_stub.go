//go:build !linux

package group

// pinThread is a no-op off Linux; the worker still gets a dedicated OS
// thread via runtime.LockOSThread.
func pinThread(int) error { return nil }
