package mft

import (
	"context"
	"net"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/marmos91/dittomft/internal/adapter/mft/handlers"
)

// CachingResolver resolves partner addresses through net.Resolver and keeps
// the answers for a while. Failures are not cached.
type CachingResolver struct {
	resolver *net.Resolver
	cache    *expirable.LRU[string, []string]
}

var _ handlers.Resolver = (*CachingResolver)(nil)

// NewCachingResolver caches up to size answers for ttl.
func NewCachingResolver(size int, ttl time.Duration) *CachingResolver {
	if size <= 0 {
		size = 256
	}
	return &CachingResolver{
		resolver: net.DefaultResolver,
		cache:    expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

func (r *CachingResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if addrs, ok := r.cache.Get(host); ok {
		return addrs, nil
	}
	addrs, err := r.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	r.cache.Add(host, addrs)
	return addrs, nil
}
