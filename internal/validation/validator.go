package validation

import (
	"fmt"
	"net"

	"github.com/devrev/pairdb/ringnode/internal/config"
	"github.com/devrev/pairdb/ringnode/internal/errors"
	"github.com/devrev/pairdb/ringnode/internal/model"
)

// Validator checks that a configuration describes a usable ring identity
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates every section and the node identity
func (v *Validator) ValidateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.InvalidConfig("invalid configuration", err)
	}

	if err := v.ValidateNode(cfg.Node); err != nil {
		return err
	}

	if cfg.Gossip.Enabled && cfg.Gossip.BindPort == cfg.Node.BindPort {
		return errors.InvalidConfig("gossip.bind_port must differ from node.bind_port", nil).
			WithDetail("port", cfg.Node.BindPort)
	}

	return nil
}

// ValidateNode validates the bind and entry addresses
func (v *Validator) ValidateNode(node config.NodeConfig) error {
	if err := v.ValidateBindIP(node.BindIP); err != nil {
		return err
	}
	if err := v.ValidatePort("node.bind_port", node.BindPort); err != nil {
		return err
	}

	entry := node.EntryAddress()
	if entry == nil {
		return nil
	}

	if node.RemoteIP == "" || node.RemotePort == 0 {
		return errors.InvalidConfig("node.remote_ip and node.remote_port must be set together", nil).
			WithDetail("remote_ip", node.RemoteIP).
			WithDetail("remote_port", node.RemotePort)
	}
	if err := v.ValidateAddress("node.remote", *entry); err != nil {
		return err
	}
	if *entry == node.BindAddress() {
		return errors.InvalidConfig("remote address must differ from the bind address", nil).
			WithDetail("address", entry.String())
	}

	return nil
}

// ValidateBindIP checks that ip is a concrete local address. The bind
// address doubles as the node's identity on the ring, so wildcards are
// rejected.
func (v *Validator) ValidateBindIP(ip string) error {
	if ip == "" {
		return errors.InvalidConfig("node.bind_ip is required", nil)
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return errors.InvalidConfig(fmt.Sprintf("node.bind_ip %q is not an IP address", ip), nil)
	}
	if parsed.IsUnspecified() {
		return errors.InvalidConfig("node.bind_ip must not be a wildcard address", nil).
			WithDetail("bind_ip", ip)
	}
	if parsed.IsMulticast() {
		return errors.InvalidConfig("node.bind_ip must not be a multicast address", nil).
			WithDetail("bind_ip", ip)
	}

	return nil
}

// ValidateAddress checks a peer address
func (v *Validator) ValidateAddress(field string, addr model.Address) error {
	parsed := net.ParseIP(addr.IP)
	if parsed == nil {
		return errors.InvalidConfig(fmt.Sprintf("%s_ip %q is not an IP address", field, addr.IP), nil)
	}
	if parsed.IsUnspecified() {
		return errors.InvalidConfig(fmt.Sprintf("%s_ip must not be a wildcard address", field), nil)
	}
	return v.ValidatePort(field+"_port", addr.Port)
}

// ValidatePort checks a port is in 1..65535
func (v *Validator) ValidatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return errors.InvalidConfig(fmt.Sprintf("%s must be between 1 and 65535", field), nil).
			WithDetail("port", port)
	}
	return nil
}
