// Package hwtstamp enables hardware timestamp generation on a network
// interface (SIOCSHWTSTAMP) and reads back what the driver accepted.
package hwtstamp

import (
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// RxFilter selects which inbound packets the NIC timestamps.
type RxFilter int

const (
	RxNone RxFilter = iota
	RxAll
)

func (f RxFilter) String() string {
	switch f {
	case RxNone:
		return "none"
	case RxAll:
		return "all"
	default:
		return fmt.Sprintf("RxFilter(%d)", int(f))
	}
}

func (f RxFilter) kernel() int32 {
	if f == RxAll {
		return unix.HWTSTAMP_FILTER_ALL
	}
	return unix.HWTSTAMP_FILTER_NONE
}

// fromKernel maps a driver-reported filter; drivers may widen a request to a
// PTP-specific filter, which still timestamps some traffic.
func fromKernel(v int32) RxFilter {
	if v == unix.HWTSTAMP_FILTER_NONE {
		return RxNone
	}
	return RxAll
}

// ConfigError is a failure to look up or configure the interface.
type ConfigError struct {
	Interface string
	Op        string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("hwtstamp %s on %s: %v", e.Op, e.Interface, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Lookup resolves the interface through netlink and returns its first IPv4
// address, which may be nil.
func Lookup(ifname string) (netlink.Link, net.IP, error) {
	link, err := netlink.LinkByName(ifname)
	if err != nil {
		return nil, nil, &ConfigError{ifname, "lookup", err}
	}
	if link.Attrs().Flags&net.FlagUp == 0 {
		log.WithField("interface", ifname).Warn("interface is down")
	}
	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, nil, &ConfigError{ifname, "address list", err}
	}
	for _, a := range addrs {
		if ip := a.IP.To4(); ip != nil {
			return link, ip, nil
		}
	}
	return link, nil, nil
}

func withSocket[T any](ifname, op string, f func(fd int) (T, error)) (T, error) {
	var zero T
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return zero, &ConfigError{ifname, op, fmt.Errorf("socket: %w", err)}
	}
	defer unix.Close(fd)
	res, err := f(fd)
	if err != nil {
		return zero, &ConfigError{ifname, op, err}
	}
	return res, nil
}

// Configure enables or disables TX stamping and selects the RX filter.
func Configure(ifname string, tx bool, rx RxFilter) error {
	if _, _, err := Lookup(ifname); err != nil {
		return err
	}
	cfg := &unix.HwTstampConfig{
		Tx_type:   unix.HWTSTAMP_TX_OFF,
		Rx_filter: rx.kernel(),
	}
	if tx {
		cfg.Tx_type = unix.HWTSTAMP_TX_ON
	}
	_, err := withSocket(ifname, "SIOCSHWTSTAMP", func(fd int) (struct{}, error) {
		return struct{}{}, unix.IoctlSetHwTstamp(fd, ifname, cfg)
	})
	if err != nil {
		return err
	}
	// the driver writes back what it actually enabled
	log.WithFields(log.Fields{
		"interface": ifname,
		"tx_type":   cfg.Tx_type,
		"rx_filter": cfg.Rx_filter,
	}).Debug("hardware timestamping configured")
	return nil
}

// Query returns the interface's current hardware timestamping state.
func Query(ifname string) (tx bool, rx RxFilter, err error) {
	cfg, err := withSocket(ifname, "SIOCGHWTSTAMP", func(fd int) (*unix.HwTstampConfig, error) {
		return unix.IoctlGetHwTstamp(fd, ifname)
	})
	if err != nil {
		return false, RxNone, err
	}
	return cfg.Tx_type != unix.HWTSTAMP_TX_OFF, fromKernel(cfg.Rx_filter), nil
}
