// Package entropy supplies transaction-id sources for the resolver.
//
// DNS spoofing resistance depends on the unpredictability of the 16-bit
// transaction id carried in every query. Three interchangeable sources are
// provided; exactly one is wired into a resolver at construction time.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"
)

// Source produces 16-bit values suitable for seeding a DNS transaction id.
// Implementations need not be unique across calls: the caller is responsible
// for rejecting collisions and the reserved sentinel value.
type Source interface {
	// Uint16 returns one raw 16-bit value from the source.
	Uint16() uint16
}

// Crypto draws from a cryptographically secure RNG. It is the only source
// that defeats off-path spoofing (Kaminsky-style cache poisoning) and is the
// default choice for any resolver exposed to an untrusted network.
type Crypto struct{}

func (Crypto) Uint16() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the platform RNG is broken; proceeding
		// with a predictable id would silently defeat spoofing resistance.
		panic(fmt.Sprintf("entropy: crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}

// MonotonicClock derives a value from the low bits of a monotonic
// nanosecond counter. It is not resistant to spoofing by an attacker able to
// observe or estimate query timing, and exists only as a fallback for
// constrained environments lacking a fast crypto RNG.
type MonotonicClock struct {
	ctr atomic.Uint64
}

// monoEpoch anchors MonotonicClock: time.Since measures from it using the
// runtime's monotonic clock reading rather than the wall clock.
var monoEpoch = time.Now()

func (m *MonotonicClock) Uint16() uint16 {
	// Mix in a monotonically incrementing counter so back-to-back calls
	// within the same clock tick still diverge.
	n := m.ctr.Add(1)
	now := uint64(time.Since(monoEpoch).Nanoseconds())
	return uint16((now ^ (n * 2654435761)) & 0xFFFF)
}

// WallClockMicro derives a value from the microsecond component of the wall
// clock. Weaker than MonotonicClock under load (multiple queries can land
// in the same microsecond) and kept only for parity with legacy resolvers
// that seeded this way.
type WallClockMicro struct{}

func (WallClockMicro) Uint16() uint16 {
	return uint16(time.Now().UnixMicro() & 0xFFFF)
}

// Default returns the preferred source for general use.
func Default() Source {
	return Crypto{}
}
