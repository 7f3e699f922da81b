// Package probe runs optional pre-connect checks against the remote host:
// a TCP reachability test of the transport port and, when a community
// string is configured, an SNMP v2c identity lookup. Probe results are
// diagnostic only; they never gate startup or influence platform
// selection.
package probe

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gosnmp/gosnmp"
)

// Identity is what the host says about itself over SNMP.
type Identity struct {
	Hostname string
	SysDescr string
}

// CheckPort verifies the remote TCP port accepts connections within the
// timeout.
func CheckPort(host string, port int, timeout time.Duration) error {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return fmt.Errorf("port check failed for %s: %w", address, err)
	}
	conn.Close()
	return nil
}

// SNMPIdentity fetches sysDescr and sysName over SNMP v2c.
func SNMPIdentity(host string, port int, community string, timeout time.Duration) (*Identity, error) {
	g := &gosnmp.GoSNMP{
		Target:    host,
		Port:      uint16(port),
		Version:   gosnmp.Version2c,
		Community: community,
		Timeout:   timeout,
	}

	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("SNMP connection failed: %w", err)
	}
	defer g.Conn.Close()

	// sysDescr (1.3.6.1.2.1.1.1.0) and sysName (1.3.6.1.2.1.1.5.0)
	oids := []string{"1.3.6.1.2.1.1.1.0", "1.3.6.1.2.1.1.5.0"}
	result, err := g.Get(oids)
	if err != nil {
		return nil, fmt.Errorf("SNMP Get request failed: %w", err)
	}

	identity := &Identity{}
	for _, variable := range result.Variables {
		switch variable.Name {
		case ".1.3.6.1.2.1.1.1.0":
			identity.SysDescr = snmpString(variable.Value)
		case ".1.3.6.1.2.1.1.5.0":
			identity.Hostname = snmpString(variable.Value)
		}
	}

	return identity, nil
}

func snmpString(v interface{}) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
