package packet

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

var (
	scmTimestampingSize = binary.Size(unix.ScmTimestamping{})
	extendedErrSize     = binary.Size(unix.SockExtendedErr{})
)

// Decoded is the result of walking one control-message buffer.
type Decoded struct {
	Records []Record
	// Skipped counts triples that were malformed, unpaired or did not
	// originate from the timestamping machinery.
	Skipped int
}

// Last returns the most recent record.
func (d Decoded) Last() (Record, bool) {
	if len(d.Records) == 0 {
		return Record{}, false
	}
	return d.Records[len(d.Records)-1], true
}

// cursor walks control messages, refusing to interpret a header unless it and
// its declared length fit in what is left of the buffer.
type cursor struct {
	buf []byte
}

func (c *cursor) next() (hdr unix.Cmsghdr, data []byte, ok, malformed bool) {
	if len(c.buf) == 0 {
		return hdr, nil, false, false
	}
	if len(c.buf) < unix.SizeofCmsghdr {
		c.buf = nil
		return hdr, nil, false, true
	}
	hdr, data, rest, err := unix.ParseOneSocketControlMessage(c.buf)
	if err != nil {
		c.buf = nil
		return hdr, nil, false, true
	}
	c.buf = rest
	return hdr, data, true, false
}

// Decode extracts timestamp records from buf. With errQueue set, a timestamp
// is only accepted when paired with an extended error whose origin is the
// timestamping subsystem; otherwise every timestamping message yields a record.
// A buffer with nothing usable yields an empty result, never an error.
func Decode(buf []byte, errQueue bool) Decoded {
	var (
		res     Decoded
		ts      Record
		haveTs  bool
		ee      unix.SockExtendedErr
		haveErr bool
	)

	c := cursor{buf: buf}
	for {
		hdr, data, ok, malformed := c.next()
		if malformed {
			res.Skipped++
		}
		if !ok {
			break
		}

		switch {
		case hdr.Level == unix.SOL_SOCKET && hdr.Type == unix.SCM_TIMESTAMPING:
			rec, valid := decodeTimestamping(data)
			if !valid {
				res.Skipped++
				continue
			}
			if !errQueue {
				if !rec.Empty() {
					res.Records = append(res.Records, rec)
				}
				continue
			}
			if haveTs {
				// previous stamp never got its extended error
				res.Skipped++
			}
			ts, haveTs = rec, true

		case isRecvErr(hdr):
			if !errQueue {
				continue
			}
			e, valid := decodeExtendedErr(data)
			if !valid {
				res.Skipped++
				continue
			}
			if haveErr {
				res.Skipped++
			}
			ee, haveErr = e, true

		default:
			// the data path also carries unrelated ancillary data (pktinfo, ttl)
			if errQueue {
				res.Skipped++
			}
			continue
		}

		if haveTs && haveErr {
			if ee.Origin == unix.SO_EE_ORIGIN_TIMESTAMPING && !ts.Empty() {
				ts.Tag, ts.Tagged = ee.Data, true
				res.Records = append(res.Records, ts)
			} else {
				res.Skipped++
			}
			haveTs, haveErr = false, false
		}
	}

	if haveTs || haveErr {
		res.Skipped++
	}
	return res
}

func isRecvErr(hdr unix.Cmsghdr) bool {
	return (hdr.Level == unix.SOL_IP && hdr.Type == unix.IP_RECVERR) ||
		(hdr.Level == unix.SOL_IPV6 && hdr.Type == unix.IPV6_RECVERR)
}

// decodeTimestamping reads the three ScmTimestamping slots: [0] software,
// [1] deprecated and ignored, [2] raw hardware.
func decodeTimestamping(data []byte) (Record, bool) {
	if len(data) < scmTimestampingSize {
		return Record{}, false
	}
	var scm unix.ScmTimestamping
	if _, err := binary.Decode(data, binary.NativeEndian, &scm); err != nil {
		return Record{}, false
	}
	var rec Record
	rec.Software, _ = TimestampFromTimespec(scm.Ts[0])
	rec.Hardware, _ = TimestampFromTimespec(scm.Ts[2])
	return rec, true
}

func decodeExtendedErr(data []byte) (unix.SockExtendedErr, bool) {
	var ee unix.SockExtendedErr
	if len(data) < extendedErrSize {
		return ee, false
	}
	if _, err := binary.Decode(data, binary.NativeEndian, &ee); err != nil {
		return ee, false
	}
	return ee, true
}
