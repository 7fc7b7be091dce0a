package main

import (
	"net"

	"nanoping/pkg/packet"
	"nanoping/pkg/socket"

	log "github.com/sirupsen/logrus"
)

// openEcho binds the socket that receives echoes, inbound probes and pong
// replies.
func openEcho(conf Config) (*socket.Conn, *packet.EchoChannel, error) {
	localAddr := &net.UDPAddr{IP: net.IPv4zero, Port: conf.Port}
	conn, err := socket.Open(socket.Options{
		Interface:    conf.Interface,
		Bind:         localAddr,
		Timestamping: packet.RxTimestamping,
	})
	if err != nil {
		return nil, nil, err
	}

	log.Infof("listening on %s", socket.AddrToString(socket.Addr(localAddr)))
	return conn, packet.NewEchoChannel(conn, true), nil
}
