package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Address identifies a ring member on the network
type Address struct {
	IP   string
	Port int
}

// NewAddress creates an address from its parts
func NewAddress(ip string, port int) Address {
	return Address{IP: ip, Port: port}
}

// ParseAddress parses the canonical "ip:port" form.
// The port is taken after the last colon so bare IPv6 literals survive the
// colon-delimited wire grammar.
func ParseAddress(s string) (Address, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return Address{}, fmt.Errorf("address %q is not of the form ip:port", s)
	}

	ip := strings.TrimSuffix(strings.TrimPrefix(s[:idx], "["), "]")
	if ip == "" {
		return Address{}, fmt.Errorf("address %q has an empty ip", s)
	}

	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Address{}, fmt.Errorf("address %q has an invalid port: %w", s, err)
	}
	if port < 1 || port > 65535 {
		return Address{}, fmt.Errorf("address %q port must be between 1 and 65535", s)
	}

	return Address{IP: ip, Port: port}, nil
}

// AddressFromUDP converts a socket address into an Address
func AddressFromUDP(addr *net.UDPAddr) Address {
	return Address{IP: addr.IP.String(), Port: addr.Port}
}

// UDPAddr resolves the address for use with a UDP socket
func (a Address) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", net.JoinHostPort(a.IP, strconv.Itoa(a.Port)))
}

// IsZero reports whether the address is unset
func (a Address) IsZero() bool {
	return a.IP == "" && a.Port == 0
}

// String returns the canonical ip:port form used on the wire and for hashing
func (a Address) String() string {
	return a.IP + ":" + strconv.Itoa(a.Port)
}
