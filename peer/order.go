// Package peer implements the roster-driven WebRTC mesh (spec §4.7): the
// total order over PlayerId used for initiator direction and host election,
// a small seam over the real pion/webrtc stack so the manager is
// unit-testable, and the PeerManager itself.
package peer

import (
	"math/big"
	"regexp"

	"meshcore/wire"
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// Less implements the total order on PlayerId pinned by spec §4.7: digit-only
// ids compare as big integers, falling back to strict lexicographic order of
// the raw strings on numeric equality (so "02" sorts before "2"); any other
// pair compares by strict byte-wise lexicographic order.
func Less(a, b wire.PlayerId) bool {
	if digitsOnly.MatchString(a) && digitsOnly.MatchString(b) {
		na, _ := new(big.Int).SetString(a, 10)
		nb, _ := new(big.Int).SetString(b, 10)
		cmp := na.Cmp(nb)
		if cmp != 0 {
			return cmp < 0
		}
		return a < b
	}
	return a < b
}

// Min returns the smallest id in ids by Less, plus whether ids was non-empty.
func Min(ids []wire.PlayerId) (wire.PlayerId, bool) {
	if len(ids) == 0 {
		return "", false
	}
	min := ids[0]
	for _, id := range ids[1:] {
		if Less(id, min) {
			min = id
		}
	}
	return min, true
}
