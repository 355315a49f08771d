// Package orchestrator runs monitoring sweeps: it walks a batch of services,
// invokes the evaluators that apply to each, persists findings as alerts and
// hands fresh or escalated alerts to the notification dispatcher.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/watchpost/watchpost/internal/alertstore"
	"github.com/watchpost/watchpost/internal/heartbeat"
	"github.com/watchpost/watchpost/internal/notifier"
	"github.com/watchpost/watchpost/internal/policy"
	"github.com/watchpost/watchpost/internal/probe"
	"github.com/watchpost/watchpost/internal/types"
)

// DefaultConcurrency bounds the per-sweep worker pool.
const DefaultConcurrency = 8

// ExpiryFetcher resolves an expiry date from the network. Injectable so
// sweeps are testable without TLS/WHOIS traffic.
type ExpiryFetcher func(target string, timeout time.Duration) (*time.Time, error)

// Orchestrator holds the collaborators for a sweep. It keeps no state
// between invocations: every run is a fresh pass over the batch it is given.
type Orchestrator struct {
	log        zerolog.Logger
	store      alertstore.Store
	dispatcher *notifier.Dispatcher
	prober     *probe.Prober
	heartbeats *heartbeat.Registry // may be nil

	concurrency  int
	fetchTLS     ExpiryFetcher // nil disables refresh
	fetchDomain  ExpiryFetcher
	fetchTimeout time.Duration
	now          func() time.Time
}

// New creates an Orchestrator. heartbeats may be nil when no monitors are
// registered. A non-positive concurrency falls back to DefaultConcurrency.
func New(log zerolog.Logger, store alertstore.Store, dispatcher *notifier.Dispatcher, prober *probe.Prober, heartbeats *heartbeat.Registry, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		log:          log.With().Str("component", "orchestrator").Logger(),
		store:        store,
		dispatcher:   dispatcher,
		prober:       prober,
		heartbeats:   heartbeats,
		concurrency:  concurrency,
		fetchTimeout: 5 * time.Second,
		now:          time.Now,
	}
}

// EnableExpiryRefresh wires the TLS and WHOIS fetchers used to fill in
// missing expiry dates before evaluation.
func (o *Orchestrator) EnableExpiryRefresh(fetchTLS, fetchDomain ExpiryFetcher) {
	o.fetchTLS = fetchTLS
	o.fetchDomain = fetchDomain
}

// Sweep evaluates every service in the batch, upserts the findings and
// notifies on fresh creations and severity escalations. A single service's
// failure never aborts the batch; cancellation stops feeding new work and
// partially processed services are simply picked up by the next sweep.
func (o *Orchestrator) Sweep(ctx context.Context, services []types.Service) ([]types.Finding, error) {
	started := o.now()

	jobs := make(chan types.Service)
	var (
		mu       sync.Mutex
		findings []types.Finding
	)

	workers := o.concurrency
	if len(services) < workers {
		workers = len(services)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for svc := range jobs {
				found := o.checkService(ctx, svc)
				if len(found) == 0 {
					continue
				}
				mu.Lock()
				findings = append(findings, found...)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, svc := range services {
		select {
		case jobs <- svc:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if o.heartbeats != nil && ctx.Err() == nil {
		for _, f := range o.heartbeats.EvaluateAll() {
			o.record(ctx, f)
			findings = append(findings, f)
		}
	}

	o.log.Info().
		Int("services", len(services)).
		Int("findings", len(findings)).
		Dur("elapsed", o.now().Sub(started)).
		Msg("sweep complete")

	return findings, ctx.Err()
}

// checkService runs every evaluator that applies to one service. Panics are
// contained here so a bad record cannot take down the batch.
func (o *Orchestrator) checkService(ctx context.Context, svc types.Service) (found []types.Finding) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("service", svc.ID).Interface("panic", r).Msg("service evaluation failed")
		}
	}()

	if svc.Status != types.StatusActive {
		return nil
	}

	svc = o.refreshExpiries(svc)

	subject := types.Subject{ServiceID: svc.ID}
	now := o.now()

	switch svc.Type {
	case types.ServiceDomain:
		if f := policy.EvaluateExpiry(subject, svc.Target, svc.DomainExpiry, policy.FamilyDomain, now); f != nil {
			found = append(found, *f)
		}
	case types.ServiceSSL:
		if f := policy.EvaluateExpiry(subject, svc.Target, svc.SSLExpiry, policy.FamilySSL, now); f != nil {
			found = append(found, *f)
		}
	}

	if o.prober != nil && hasNetworkTarget(svc) {
		if f := o.prober.Check(ctx, svc); f != nil {
			found = append(found, *f)
		}
	}

	if f := policy.EvaluateRenewalReminder(subject, svc.Target, relevantDate(svc), now); f != nil {
		found = append(found, *f)
	}

	for _, f := range found {
		o.record(ctx, f)
	}
	return found
}

// record upserts one finding and dispatches when it created or escalated an
// alert. Store or transport trouble is logged, never propagated: alert
// persistence has already committed by the time notification is attempted.
func (o *Orchestrator) record(ctx context.Context, f types.Finding) {
	res, err := o.store.Upsert(ctx, f)
	if err != nil {
		o.log.Error().Err(err).
			Str("service", f.Subject.ServiceID).
			Str("type", f.Type).
			Msg("failed to persist finding")
		return
	}

	if !res.Created && !res.Escalated {
		return
	}

	o.log.Info().
		Str("alert", res.Alert.ID).
		Str("service", f.Subject.ServiceID).
		Str("type", f.Type).
		Str("severity", string(f.Severity)).
		Bool("created", res.Created).
		Bool("escalated", res.Escalated).
		Msg("alert raised")

	if o.dispatcher != nil {
		o.dispatcher.Dispatch(ctx, res.Alert)
	}
}

// refreshExpiries fills in missing expiry dates from the network when the
// fetchers are wired. Fetch failures leave the date unset; the policy
// evaluators treat that as "not applicable".
func (o *Orchestrator) refreshExpiries(svc types.Service) types.Service {
	if svc.Target == "" {
		return svc
	}
	if o.fetchTLS != nil && svc.SSLExpiry == nil && svc.Type != types.ServiceDomain {
		exp, err := o.fetchTLS(svc.Target, o.fetchTimeout)
		if err != nil {
			o.log.Debug().Err(err).Str("service", svc.ID).Msg("tls expiry refresh failed")
		} else {
			svc.SSLExpiry = exp
		}
	}
	if o.fetchDomain != nil && svc.DomainExpiry == nil && svc.Type == types.ServiceDomain {
		exp, err := o.fetchDomain(svc.Target, o.fetchTimeout)
		if err != nil {
			o.log.Debug().Err(err).Str("service", svc.ID).Msg("domain expiry refresh failed")
		} else {
			svc.DomainExpiry = exp
		}
	}
	return svc
}

// hasNetworkTarget reports whether the service exposes something the uptime
// probe can reach.
func hasNetworkTarget(svc types.Service) bool {
	if svc.URL != "" {
		return true
	}
	return svc.Type == types.ServiceWebsite && svc.Target != ""
}

// relevantDate picks the renewal date most relevant to the service type.
func relevantDate(svc types.Service) *time.Time {
	switch svc.Type {
	case types.ServiceDomain:
		return svc.DomainExpiry
	case types.ServiceSSL:
		return svc.SSLExpiry
	}
	if svc.DomainExpiry != nil && svc.SSLExpiry != nil {
		if svc.DomainExpiry.Before(*svc.SSLExpiry) {
			return svc.DomainExpiry
		}
		return svc.SSLExpiry
	}
	if svc.DomainExpiry != nil {
		return svc.DomainExpiry
	}
	return svc.SSLExpiry
}
