package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// OwnAddress resolves the mailbox's own address once. A configured value
// wins; otherwise the transport profile is asked, and a failed lookup is
// retried on the next call.
type OwnAddress struct {
	resolver AddressResolver

	cacheMu     sync.RWMutex
	cacheLoaded bool
	address     string
}

func NewOwnAddress(configured string, resolver AddressResolver) (*OwnAddress, error) {
	configured = strings.ToLower(strings.TrimSpace(configured))
	if configured == "" && resolver == nil {
		return nil, errors.New("usecase: own address or resolver must be set")
	}
	a := &OwnAddress{resolver: resolver}
	if configured != "" {
		a.address = configured
		a.cacheLoaded = true
	}
	return a, nil
}

func (a *OwnAddress) Get(ctx context.Context) (string, error) {
	a.cacheMu.RLock()
	if a.cacheLoaded {
		defer a.cacheMu.RUnlock()
		return a.address, nil
	}
	a.cacheMu.RUnlock()

	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if a.cacheLoaded {
		return a.address, nil
	}

	addr, err := a.resolver.Profile(ctx)
	if err != nil {
		return "", fmt.Errorf("usecase: resolve own address: %w", err)
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return "", errors.New("usecase: resolve own address: profile returned empty address")
	}
	a.address = addr
	a.cacheLoaded = true
	return addr, nil
}
