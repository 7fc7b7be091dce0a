package packet

import (
	"context"
	"time"

	"nanoping/pkg/socket"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	ethtoolSuggestion = "use 'ethtool -T <INTERFACE>' to check if your network interface supports hardware TX timestamping"
)

type ChannelStats struct {
	// Spurious counts wakes that were not an error-queue notification.
	Spurious int
	// Skipped counts control messages the decoder rejected.
	Skipped int
	// Stale counts records belonging to an earlier send.
	Stale int
}

// ProbeChannel sends probes and collects their transmit completion
// timestamps from the socket error queue.
type ProbeChannel struct {
	ep     Endpoint
	to     unix.Sockaddr
	sent   uint32
	ctlBuf []byte
	// looped-back payload, empty under OPT_TSONLY
	dataBuf       []byte
	succeededOnce bool
	stats         ChannelStats
}

func NewProbeChannel(ep Endpoint, to unix.Sockaddr) *ProbeChannel {
	return &ProbeChannel{
		ep:      ep,
		to:      to,
		ctlBuf:  make([]byte, ctlBufSize),
		dataBuf: make([]byte, 256),
	}
}

func (p *ProbeChannel) Stats() ChannelStats {
	return p.stats
}

// Send transmits payload to the configured peer and returns the completion
// tag the kernel will attach to its timestamp.
func (p *ProbeChannel) Send(payload []byte) (uint32, error) {
	return p.SendTo(payload, p.to)
}

func (p *ProbeChannel) SendTo(payload []byte, to unix.Sockaddr) (uint32, error) {
	if err := p.ep.Send(payload, to); err != nil {
		return 0, &TransportError{"send to " + socket.AddrToString(to), err}
	}
	tag := p.sent
	p.sent++
	return tag, nil
}

// FetchCompletion waits up to timeout for the completion of the most recent
// send. It returns ok == false when a notification arrived but carried no
// usable timestamp.
func (p *ProbeChannel) FetchCompletion(ctx context.Context, timeout time.Duration) (Record, bool, error) {
	expect := p.sent - 1
	deadline := time.Now().Add(timeout)

	for first := true; ; first = false {
		if !first && !time.Now().Before(deadline) {
			return Record{}, false, ErrTimeout
		}
		res, revents, err := p.ep.Wait(ctx, unix.POLLPRI, max(time.Until(deadline), 0))
		if err != nil {
			return Record{}, false, &TransportError{"wait tx completion", err}
		}
		switch res {
		case socket.Cancelled:
			return Record{}, false, ErrCancelled
		case socket.TimedOut:
			if !p.succeededOnce {
				log.Debug(ethtoolSuggestion)
			}
			return Record{}, false, ErrTimeout
		}

		if revents&unix.POLLNVAL != 0 {
			return Record{}, false, &TransportError{"wait tx completion", unix.EBADF}
		}
		if revents&unix.POLLPRI == 0 {
			p.stats.Spurious++
			log.WithField("revents", revents).Trace("spurious wake on completion queue")
			if revents&unix.POLLERR == 0 {
				continue
			}
			// error-queue data without POLLPRI: consume it so the level-triggered
			// POLLERR does not wake us again immediately
		}

		decoded, err := p.recvErrQueue()
		if err != nil {
			if socket.IsWouldBlock(err) {
				continue
			}
			return Record{}, false, &TransportError{"recvmsg errqueue", err}
		}

		rec, matched, stale := pick(decoded, expect)
		p.stats.Stale += stale
		if matched {
			p.succeededOnce = true
			return rec, true, nil
		}
		if stale > 0 {
			continue
		}
		if revents&unix.POLLPRI != 0 {
			return Record{}, false, nil
		}
	}
}

func (p *ProbeChannel) recvErrQueue() (Decoded, error) {
	n, ctlN, _, err := p.ep.Recv(p.dataBuf, p.ctlBuf, unix.MSG_ERRQUEUE)
	if err != nil {
		return Decoded{}, err
	}
	decoded := Decode(p.ctlBuf[:ctlN], true)
	p.stats.Skipped += decoded.Skipped
	for i := range decoded.Records {
		decoded.Records[i].PayloadLen = n
	}
	return decoded, nil
}

// pick returns the most recent record carrying the expected tag, counting
// those that belong to earlier sends.
func pick(d Decoded, expect uint32) (rec Record, ok bool, stale int) {
	for _, r := range d.Records {
		switch {
		case !r.Tagged || r.Tag == expect:
			rec, ok = r, true
		default:
			stale++
		}
	}
	return
}
