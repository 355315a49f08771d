package probe

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// ErrExpiryNotFound is returned when WHOIS output carries no parseable
// expiration date.
var ErrExpiryNotFound = errors.New("whois: expiry not found")

// Well-known registry servers per TLD. Anything else goes through IANA,
// following the referral it returns.
var whoisHosts = map[string]string{
	"com": "whois.verisign-grs.com",
	"net": "whois.verisign-grs.com",
	"org": "whois.pir.org",
	"io":  "whois.nic.io",
	"dev": "whois.nic.google",
	"app": "whois.nic.google",
}

const whoisFallbackHost = "whois.iana.org"

// Field names registries use for the expiration date.
var whoisExpiryKeys = []string{
	"Registry Expiry Date",
	"Registrar Registration Expiration Date",
	"Expiration Time",
	"Expiry Date",
	"paid-till",
}

var whoisDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z",
	"2006-01-02 15:04:05-0700",
	"2006-01-02",
	"2006.01.02",
}

var whoisDateRE = regexp.MustCompile(`[0-9]{4}[-.][0-9]{2}[-.][0-9]{2}([T ][0-9]{2}:[0-9]{2}:[0-9]{2}(Z|[+-][0-9]{4})?)?`)

// FetchDomainExpiry determines a domain's expiry date via WHOIS.
func FetchDomainExpiry(domain string, timeout time.Duration) (*time.Time, error) {
	host := whoisHostFor(domain)
	text, err := whoisQuery(host, domain, timeout)
	if err != nil {
		return nil, err
	}

	if host == whoisFallbackHost {
		if ref := whoisReferral(text); ref != "" {
			if refText, err := whoisQuery(ref, domain, timeout); err == nil {
				if exp, err := ParseWhoisExpiry(refText); err == nil {
					return exp, nil
				}
			}
		}
	}

	return ParseWhoisExpiry(text)
}

// ParseWhoisExpiry scans WHOIS output for a known expiry field and parses
// its date value.
func ParseWhoisExpiry(text string) (*time.Time, error) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		for _, key := range whoisExpiryKeys {
			if !strings.HasPrefix(strings.ToLower(line), strings.ToLower(key)) {
				continue
			}
			parts := strings.SplitN(line, ":", 2)
			if len(parts) < 2 {
				continue
			}
			val := strings.TrimSpace(parts[1])
			val = strings.SplitN(val, " ", 2)[0]
			if val == "" {
				val = whoisDateRE.FindString(line)
			}
			for _, layout := range whoisDateLayouts {
				if t, err := time.Parse(layout, val); err == nil {
					return &t, nil
				}
			}
		}
	}
	return nil, ErrExpiryNotFound
}

func whoisHostFor(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) < 2 {
		return whoisFallbackHost
	}
	tld := strings.ToLower(parts[len(parts)-1])
	if host, ok := whoisHosts[tld]; ok {
		return host
	}
	return whoisFallbackHost
}

func whoisQuery(host, domain string, timeout time.Duration) (string, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", net.JoinHostPort(host, "43"))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if _, err := fmt.Fprintf(conn, "%s\r\n", domain); err != nil {
		return "", err
	}

	var b strings.Builder
	rd := bufio.NewReader(conn)
	for {
		line, err := rd.ReadString('\n')
		if line != "" {
			b.WriteString(line)
		}
		if err != nil {
			break
		}
	}
	return b.String(), nil
}

// whoisReferral extracts the delegated whois server from IANA output.
func whoisReferral(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), "whois:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}
