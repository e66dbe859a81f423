package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/dnsbatch/internal/domain"
	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultZoneCacheTTL = 30 * time.Second
	zoneMissCacheTTL    = 5 * time.Second
)

type ZoneFinder interface {
	FindByNames(ctx context.Context, names []string) ([]domain.Zone, error)
}

// zoneMiss marks a name known not to be a zone.
type zoneMiss struct{}

// ZoneResolver maps record names to the managed zone with the longest matching suffix.
type ZoneResolver struct {
	zones ZoneFinder
	cache *gocache.Cache
}

func NewZoneResolver(zones ZoneFinder, ttl time.Duration) (*ZoneResolver, error) {
	if zones == nil {
		return nil, fmt.Errorf("zone finder is required")
	}
	if ttl <= 0 {
		ttl = defaultZoneCacheTTL
	}
	return &ZoneResolver{
		zones: zones,
		cache: gocache.New(ttl, 2*ttl),
	}, nil
}

func (r *ZoneResolver) Resolve(ctx context.Context, fqdn string) (*domain.Zone, error) {
	candidates := domain.CandidateZoneNames(fqdn)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}

	missing := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if _, ok := r.cache.Get(name); !ok {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		found, err := r.zones.FindByNames(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to look up zones: %w", err)
		}

		byName := make(map[string]domain.Zone, len(found))
		for _, z := range found {
			byName[z.Name] = z
		}
		for _, name := range missing {
			if z, ok := byName[name]; ok {
				r.cache.SetDefault(name, z)
			} else {
				r.cache.Set(name, zoneMiss{}, zoneMissCacheTTL)
			}
		}
	}

	for _, name := range candidates {
		v, ok := r.cache.Get(name)
		if !ok {
			continue
		}
		if z, ok := v.(domain.Zone); ok {
			return &z, nil
		}
	}

	return nil, fmt.Errorf("%w: no zone found for %s", domain.ErrValidation, domain.NormalizeFQDN(fqdn))
}

// Forget drops cached entries so the next lookup reads the store.
func (r *ZoneResolver) Forget() {
	r.cache.Flush()
}
