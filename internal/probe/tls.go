package probe

import (
	"crypto/tls"
	"net"
	"strings"
	"time"
)

// FetchTLSExpiry dials hostport (default port 443) and returns the NotAfter
// time of the presented leaf certificate. Verification is skipped on purpose:
// an invalid chain still carries the expiry we want to report on.
func FetchTLSExpiry(hostport string, timeout time.Duration) (*time.Time, error) {
	addr := hostport
	if !strings.Contains(hostport, ":") {
		addr = net.JoinHostPort(hostport, "443")
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, nil
	}
	exp := certs[0].NotAfter
	return &exp, nil
}
