// Package resolve turns raw user input into track descriptors. It owns
// the provider registry and nothing else: no audio is fetched here, and a
// slow provider only ever delays its own guild's request.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quaver/internal/music/sources"
	"quaver/internal/music/sources/soundcloud"
	"quaver/internal/music/sources/stream"
	"quaver/internal/music/sources/youtube"
	"quaver/internal/music/track"
	"quaver/internal/retrylimit"
)

const resolveTimeout = 30 * time.Second

type Resolver struct {
	providers []sources.Provider
	limiter   *retrylimit.Limiter
	log       zerolog.Logger
}

// New builds a resolver with the default provider order. The stream
// provider validates by probing the URL, so it goes last and catches
// whatever the platform providers declined.
func New(log zerolog.Logger) *Resolver {
	return &Resolver{
		providers: []sources.Provider{
			youtube.New(),
			soundcloud.New(),
			stream.New(),
		},
		limiter: retrylimit.NewLimiter(5, 1, 20, 1, 0.5),
		log:     log.With().Str("component", "resolver").Logger(),
	}
}

// NewWithProviders builds a resolver over an explicit provider list.
func NewWithProviders(log zerolog.Logger, providers ...sources.Provider) *Resolver {
	r := New(log)
	r.providers = providers
	return r
}

// Resolve maps a query to one or more descriptors. URLs go to the first
// provider that claims them; free text goes to the first provider that can
// search. Transient provider faults are retried once.
func (r *Resolver) Resolve(ctx context.Context, query, requestedBy string) ([]*track.Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	provider, err := r.pick(query)
	if err != nil {
		return nil, err
	}

	var tracks []*track.Descriptor
	err = retrylimit.Do(ctx, 2, r.limiter, func(err error) bool {
		return errors.Is(err, track.ErrTransient)
	}, func() error {
		var rerr error
		tracks, rerr = provider.Resolve(ctx, query)
		return rerr
	})
	if err != nil {
		r.log.Debug().Err(err).Str("provider", provider.Name()).Str("query", query).Msg("resolution failed")
		return nil, err
	}

	for _, t := range tracks {
		t.RequestedBy = requestedBy
	}

	r.log.Info().Str("provider", provider.Name()).Int("tracks", len(tracks)).Str("query", query).Msg("resolved")
	return tracks, nil
}

func (r *Resolver) pick(query string) (sources.Provider, error) {
	if sources.IsURL(query) {
		for _, p := range r.providers {
			if p.Matches(query) {
				return p, nil
			}
		}
		return nil, fmt.Errorf("%w: no provider accepts %s", track.ErrInvalidLocator, query)
	}

	for _, p := range r.providers {
		if p.SupportsSearch() {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no searchable provider registered", track.ErrNoResults)
}
