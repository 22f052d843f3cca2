// Package relay provides discovery, filtering, and reachability probing
// of third-party VPN relay candidates.
package relay

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yllada/relayhop/common"
)

// Proto is the transport protocol of a relay's tunnel endpoint.
type Proto string

const (
	ProtoTCP Proto = "tcp"
	ProtoUDP Proto = "udp"
)

// Candidate describes one VPN relay server. Candidates are immutable after
// construction; a supervisor cycle builds a fresh set on every reload.
type Candidate struct {
	// ID is a unique identifier for log and history correlation.
	ID string
	// Host is the relay's network address.
	Host string
	// Country is the relay's long country name.
	Country string
	// CountryCode is the uppercased 2-letter country code.
	CountryCode string
	// Proto is the tunnel transport protocol.
	Proto Proto
	// Port is the tunnel endpoint port.
	Port int
	// Config is the decoded tunnel configuration text.
	Config []byte
}

// Label returns the candidate's log identity, e.g. "1.2.3.4[JP]".
func (c *Candidate) Label() string {
	return fmt.Sprintf("%s[%s]", c.Host, c.CountryCode)
}

// Endpoint returns the probe target as host:port.
func (c *Candidate) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// newCandidate builds a Candidate from directory row fields and the decoded
// configuration blob. host may be empty (single-file mode); when both a row
// address and an embedded remote address exist they must agree.
func newCandidate(host, country, code string, cfg []byte) (*Candidate, error) {
	addr, port, proto, err := parseTunnelConfig(cfg)
	if err != nil {
		return nil, err
	}

	if host != "" && host != addr {
		return nil, common.WrapError(common.ErrMalformedCandidate,
			fmt.Sprintf("address %s disagrees with embedded remote %s", host, addr))
	}
	if host == "" {
		host = addr
	}

	if country == "" {
		country = "unknown"
	}
	if code == "" {
		code = "unknown"
	}

	return &Candidate{
		ID:          uuid.NewString(),
		Host:        host,
		Country:     country,
		CountryCode: strings.ToUpper(code),
		Proto:       proto,
		Port:        port,
		Config:      cfg,
	}, nil
}

// parseTunnelConfig extracts the remote endpoint and transport protocol
// from tunnel configuration text. A config without a remote line or a
// proto line is malformed.
func parseTunnelConfig(cfg []byte) (addr string, port int, proto Proto, err error) {
	for _, line := range strings.Split(string(cfg), "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") || strings.HasPrefix(fields[0], ";") {
			continue
		}

		switch fields[0] {
		case "remote":
			if addr != "" {
				continue // first remote wins; the feed is pre-ranked
			}
			if len(fields) < 3 {
				return "", 0, "", common.WrapError(common.ErrMalformedCandidate, "remote line missing port")
			}
			p, convErr := strconv.Atoi(fields[2])
			if convErr != nil || p <= 0 || p > 65535 {
				return "", 0, "", common.WrapError(common.ErrMalformedCandidate, "invalid remote port "+fields[2])
			}
			addr, port = fields[1], p
		case "proto":
			if len(fields) < 2 {
				return "", 0, "", common.WrapError(common.ErrMalformedCandidate, "proto line missing value")
			}
			switch strings.ToLower(strings.TrimSuffix(fields[1], "-client")) {
			case "tcp", "tcp4", "tcp6":
				proto = ProtoTCP
			case "udp", "udp4", "udp6":
				proto = ProtoUDP
			default:
				return "", 0, "", common.WrapError(common.ErrMalformedCandidate, "unknown proto "+fields[1])
			}
		}
	}

	if addr == "" {
		return "", 0, "", common.WrapError(common.ErrMalformedCandidate, "config has no remote line")
	}
	if proto == "" {
		return "", 0, "", common.WrapError(common.ErrMalformedCandidate, "config has no proto line")
	}
	return addr, port, proto, nil
}

// LoadFile builds a single Candidate from a local tunnel configuration
// file, bypassing the directory. Country metadata defaults to "unknown".
func LoadFile(path string) (*Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, common.WrapError(err, "config file not found")
	}
	if info.IsDir() {
		return nil, common.WrapError(common.ErrMalformedCandidate, path+" is a directory")
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ovpn" && ext != ".conf" {
		return nil, common.WrapError(common.ErrMalformedCandidate, "expected .ovpn or .conf extension")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.WrapError(err, "failed to read config file")
	}

	return newCandidate("", "", "", data)
}
