package instances

import (
	"time"

	"github.com/sonroyaalmerol/calinstances/internal/cache"
)

// Locations resolves IANA zone names, caching the parsed zoneinfo.
type Locations struct {
	cache *cache.Cache[string, *time.Location]
}

func NewLocations(ttl time.Duration) *Locations {
	return &Locations{cache: cache.New[string, *time.Location](ttl)}
}

// Load returns the location for name. The empty name is UTC.
func (l *Locations) Load(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	return l.cache.GetOrLoad(name, func() (*time.Location, error) {
		return time.LoadLocation(name)
	})
}
