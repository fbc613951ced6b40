package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/skshohagmiah/flinsend/pkg/clienterr"
)

var (
	ErrEmptyHost   = errors.New("host is empty")
	ErrInvalidPort = errors.New("invalid port")
	ErrNoAddresses = errors.New("no addresses found")
)

// Resolve maps host and port to the TCP addresses a connection may be
// attempted on, in resolver order. port may be numeric or a service name.
func Resolve(ctx context.Context, resolver *net.Resolver, host, port string) ([]*net.TCPAddr, error) {
	op := "resolve " + net.JoinHostPort(host, port)
	if host == "" {
		return nil, clienterr.New(clienterr.ResolutionFailure, op, ErrEmptyHost)
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	portNum, err := lookupPort(ctx, resolver, port)
	if err != nil {
		return nil, clienterr.New(clienterr.ResolutionFailure, op, err)
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		return []*net.TCPAddr{net.TCPAddrFromAddrPort(netip.AddrPortFrom(ip, uint16(portNum)))}, nil
	}

	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, clienterr.New(clienterr.ResolutionFailure, op, err)
	}
	if len(ips) == 0 {
		return nil, clienterr.New(clienterr.ResolutionFailure, op, ErrNoAddresses)
	}

	addrs := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, &net.TCPAddr{IP: ip.IP, Port: portNum, Zone: ip.Zone})
	}
	return addrs, nil
}

func lookupPort(ctx context.Context, resolver *net.Resolver, port string) (int, error) {
	if port == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPort)
	}
	if n, err := strconv.Atoi(port); err == nil {
		if n < 1 || n > 65535 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidPort, n)
		}
		return n, nil
	}

	n, err := resolver.LookupPort(ctx, "tcp", port)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPort, err)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, n)
	}
	return n, nil
}
