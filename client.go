package main

import (
	"fmt"
	"net"

	"nanoping/pkg/packet"
	"nanoping/pkg/session"
	"nanoping/pkg/socket"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// destination is where probes go: the peer when one is given, else in
// loopback mode the interface's own address. Pong replies pick their own
// destination.
func destination(conf Config, ifaceIP net.IP) (*net.UDPAddr, error) {
	switch {
	case conf.mode == session.Pong:
		return nil, nil
	case conf.mode == session.Loopback && conf.peer == nil:
		if ifaceIP == nil {
			return nil, fmt.Errorf("interface %s has no IPv4 address to loop back to", conf.Interface)
		}
		return &net.UDPAddr{IP: ifaceIP, Port: conf.Port}, nil
	default:
		return &net.UDPAddr{IP: conf.peer, Port: conf.Port}, nil
	}
}

func openProbe(conf Config, to *net.UDPAddr) (*socket.Conn, *packet.ProbeChannel, error) {
	conn, err := socket.Open(socket.Options{
		Interface:      conf.Interface,
		Timestamping:   packet.TxTimestamping,
		SelectErrQueue: true,
	})
	if err != nil {
		return nil, nil, err
	}

	var remoteAddr unix.Sockaddr
	if to != nil {
		remoteAddr = socket.Addr(to)
		log.Infof("probing %s via %s", socket.AddrToString(remoteAddr), conf.Interface)
	}
	return conn, packet.NewProbeChannel(conn, remoteAddr), nil
}
