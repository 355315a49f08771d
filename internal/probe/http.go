// Package probe performs bounded-time network checks: HTTP reachability,
// TLS certificate expiry and WHOIS domain expiry.
package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/watchpost/watchpost/internal/types"
)

// DefaultTimeout bounds a single reachability probe. A hung remote end must
// not stall the sweep of other services.
const DefaultTimeout = 5 * time.Second

// Prober issues HEAD probes against service endpoints.
type Prober struct {
	log     zerolog.Logger
	client  *http.Client
	timeout time.Duration
}

// New creates a Prober. A non-positive timeout falls back to DefaultTimeout.
func New(log zerolog.Logger, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		log:     log.With().Str("component", "probe").Logger(),
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Check probes the service's network target once. It returns a high-severity
// uptime_down finding on any non-2xx response, timeout or connection failure,
// and nil when the target responds successfully.
func (p *Prober) Check(ctx context.Context, svc types.Service) *types.Finding {
	target := probeURL(svc)
	if target == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return p.downFinding(svc, fmt.Sprintf("%s is down or unreachable", svc.Target))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		reason := "unreachable"
		if isTimeout(err) {
			reason = "timeout"
		}
		return p.downFinding(svc, fmt.Sprintf("%s is down or %s", svc.Target, reason))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return p.downFinding(svc, fmt.Sprintf("%s is not responding (HTTP %d)", svc.Target, resp.StatusCode))
	}

	p.log.Debug().Str("service", svc.ID).Str("target", target).Int("status", resp.StatusCode).Msg("probe ok")
	return nil
}

func (p *Prober) downFinding(svc types.Service, msg string) *types.Finding {
	p.log.Debug().Str("service", svc.ID).Str("reason", msg).Msg("probe failed")
	return &types.Finding{
		Subject:   types.Subject{ServiceID: svc.ID},
		Type:      types.AlertUptimeDown,
		Severity:  types.SeverityHigh,
		Message:   msg,
		Timestamp: time.Now(),
	}
}

// probeURL resolves the URL to probe: the explicit URL if set, otherwise
// https on the service's domain target.
func probeURL(svc types.Service) string {
	if svc.URL != "" {
		if strings.Contains(svc.URL, "://") {
			return svc.URL
		}
		return "https://" + svc.URL
	}
	if svc.Target == "" {
		return ""
	}
	if strings.Contains(svc.Target, "://") {
		return svc.Target
	}
	return "https://" + svc.Target
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
