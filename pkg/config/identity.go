package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// SyncPartners writes the configured partners and the local host to st.
//
// Keys are stored as bcrypt hashes. A stored hash that still matches the
// configured key is kept, so restarts do not rehash every partner.
func SyncPartners(ctx context.Context, cfg *Config, st transfer.Store) error {
	local := PartnerConfig{
		ID:      cfg.Host.ID,
		Address: cfg.Server.BindAddress,
		Port:    cfg.Server.Port,
		Key:     cfg.Host.Key,
		TLS:     cfg.Server.TLS.Enabled,
		Admin:   cfg.Host.AdminKey != "",
	}
	if local.Address == "" {
		local.Address = "127.0.0.1"
	}

	partners := make([]PartnerConfig, 0, len(cfg.Partners)+1)
	partners = append(partners, cfg.Partners...)
	if !hasPartner(cfg.Partners, cfg.Host.ID) {
		partners = append(partners, local)
	}

	for i := range partners {
		h, err := partnerHost(ctx, st, &partners[i])
		if err != nil {
			return err
		}
		if err := st.PutHost(ctx, h); err != nil {
			return fmt.Errorf("failed to store partner %q: %w", h.HostID, err)
		}
		logger.Debug("Partner registered", logger.KeyHostID, h.HostID,
			logger.KeyRemoteAddr, h.HostPort(), "active", h.Active)
	}
	return nil
}

func hasPartner(partners []PartnerConfig, id string) bool {
	for i := range partners {
		if partners[i].ID == id {
			return true
		}
	}
	return false
}

// partnerHost converts p, reusing the stored key hash when it still matches.
func partnerHost(ctx context.Context, st transfer.Store, p *PartnerConfig) (*transfer.Host, error) {
	h := &transfer.Host{
		HostID:       p.ID,
		Address:      p.Address,
		Port:         p.Port,
		TLS:          p.TLS,
		Client:       p.Client,
		Proxified:    p.Proxified,
		Active:       p.IsActive(),
		Admin:        p.Admin,
		DigestAlgo:   p.Digest,
		UseFinalHash: p.FinalHash,
	}

	existing, err := st.GetHost(ctx, p.ID)
	switch {
	case err == nil && existing.VerifyKey([]byte(p.Key)) == nil:
		h.KeyHash = existing.KeyHash
		return h, nil
	case err != nil && !errors.Is(err, transfer.ErrHostNotFound):
		return nil, fmt.Errorf("failed to load partner %q: %w", p.ID, err)
	}

	hash, err := transfer.HashKey([]byte(p.Key))
	if err != nil {
		return nil, fmt.Errorf("partner %q: %w", p.ID, err)
	}
	h.KeyHash = hash
	return h, nil
}
