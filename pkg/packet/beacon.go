package packet

import (
	"bytes"
	"encoding/binary"
)

// BeaconMagic is the fixed probe payload. Receivers echo it without parsing.
var BeaconMagic = [5]byte{'H', 'E', 'L', 'L', 'O'}

// Beacon is the probe payload: the magic followed by the sender's sequence
// number, so a timestamp can be matched to the probe that produced it.
type Beacon struct {
	Magic [5]byte
	Seq   uint64
}

var beaconSize = binary.Size(Beacon{})

func NewBeacon(seq uint64) Beacon {
	return Beacon{Magic: BeaconMagic, Seq: seq}
}

func (b Beacon) Append(buf []byte) []byte {
	res, err := binary.Append(buf, binary.BigEndian, &b)
	if err != nil {
		// fixed-size struct, cannot fail
		panic(err)
	}
	return res
}

// ParseBeacon reports whether p carries a sequence number. A bare legacy
// "HELLO" beacon, or anything else, returns false.
func ParseBeacon(p []byte) (Beacon, bool) {
	var b Beacon
	if len(p) != beaconSize || !bytes.HasPrefix(p, BeaconMagic[:]) {
		return b, false
	}
	if _, err := binary.Decode(p, binary.BigEndian, &b); err != nil {
		return b, false
	}
	return b, true
}
