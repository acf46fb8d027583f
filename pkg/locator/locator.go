// Package locator finds the public URL of a deployed service.
package locator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rzbill/aideploy/pkg/deployer"
	"github.com/rzbill/aideploy/pkg/log"
	"github.com/rzbill/aideploy/pkg/types"
)

// DefaultTimeout bounds how long Locate waits for a URL to be assigned.
const DefaultTimeout = 2 * time.Minute

var errNoURL = errors.New("service has no url yet")

// StatusReader reads service status. deployer.Deployer satisfies it.
type StatusReader interface {
	Status(ctx context.Context, service, region string) (*deployer.Status, error)
}

// Locator queries the runtime for a service endpoint. It never mutates.
type Locator struct {
	status       StatusReader
	region       string
	timeout      time.Duration
	pollInterval time.Duration
	now          func() time.Time
	logger       log.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithTimeout bounds the wait for a URL.
func WithTimeout(d time.Duration) Option {
	return func(l *Locator) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithPollInterval sets the initial poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locator) {
		l.pollInterval = d
	}
}

// WithLogger sets the locator logger.
func WithLogger(logger log.Logger) Option {
	return func(l *Locator) {
		l.logger = logger
	}
}

// New creates a locator for services in region.
func New(status StatusReader, region string, opts ...Option) *Locator {
	l := &Locator{
		status:       status,
		region:       region,
		timeout:      DefaultTimeout,
		pollInterval: time.Second,
		now:          time.Now,
		logger:       log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithComponent("locator")
	return l
}

// Locate returns the service endpoint, polling until the runtime has
// assigned a URL or the timeout expires.
func (l *Locator) Locate(ctx context.Context, service string) (*types.ServiceEndpoint, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.pollInterval
	b.MaxInterval = 10 * l.pollInterval
	b.MaxElapsedTime = l.timeout

	var endpoint *types.ServiceEndpoint
	operation := func() error {
		st, err := l.status.Status(ctx, service, l.region)
		if err != nil {
			if types.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if st.URL == "" {
			return errNoURL
		}
		if _, err := url.ParseRequestURI(st.URL); err != nil {
			return backoff.Permanent(types.NewError(types.KindRejected, "locate service", fmt.Errorf("runtime reported malformed url %q", st.URL)))
		}
		endpoint = &types.ServiceEndpoint{
			Service:    service,
			Region:     l.region,
			URL:        st.URL,
			Revision:   st.LatestReady,
			ObservedAt: l.now().UTC(),
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, errNoURL) {
			return nil, types.NewError(types.KindTransient, "locate service",
				fmt.Errorf("service %s has no url after %s", service, l.timeout))
		}
		return nil, err
	}

	l.logger.Debug("Located service", log.Str("service", service), log.Str("url", endpoint.URL))
	return endpoint, nil
}
