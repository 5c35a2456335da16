package crypto

import "runtime"

// Wipe zeroes the provided buffer. This is best-effort and aims to
// reduce the chance of the compiler eliding the write.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}

// Wipe32 zeroes a fixed-size key in place.
func Wipe32(k *[32]byte) {
	Wipe(k[:])
}
