// Package regmap implements the register mapper: a total, deterministic
// function from a guest register slot to a host register slot.
//
// The guest register namespace is 32 slots wide (covering both
// x86_64-as-guest and, on the reverse helper path, ARM64-as-guest),
// wrapped modulo 16 onto whichever architecture is acting as host.
package regmap

// NumGuestSlots is the width of the guest register namespace.
const NumGuestSlots = 32

// MapGPR maps a guest general-purpose register slot to a host slot.
// Guest slots 0-15 map identically; slots 16-31 wrap modulo 16, because
// whichever architecture ends up as host in a given translation direction
// (x86_64 when guest is ARM64, ARM64 when guest is x86_64) only has 16
// addressable integer registers available to this mapping. The function is
// total: every int is reduced into [0, 16) regardless of sign or magnitude.
func MapGPR(guest int) int {
	return wrap16(guest)
}

// MapVector maps a guest vector/SIMD register slot to a host slot, using
// the same modulo-16 wrap: ARM64 exposes 32 vector registers, x86_64 SSE
// exposes 16, so translating in either direction wraps the wider space onto
// the narrower one.
func MapVector(guest int) int {
	return wrap16(guest)
}

func wrap16(guest int) int {
	r := guest % 16
	if r < 0 {
		r += 16
	}
	return r
}
