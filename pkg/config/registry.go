package config

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/marmos91/dittomft/internal/adapter/mft/handlers"
	"github.com/marmos91/dittomft/internal/adapter/mft/session"
	"github.com/marmos91/dittomft/internal/logger"
	"github.com/marmos91/dittomft/internal/protocol/mft/digest"
	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
	"github.com/marmos91/dittomft/pkg/adapter/mft"
	"github.com/marmos91/dittomft/pkg/metrics"
	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/tasks/s3"
)

// Engine is a node ready to serve or to request transfers.
type Engine struct {
	Store    transfer.Store
	Registry *session.Registry
	Handler  *handlers.Handler
	Network  mft.Config
	Metrics  metrics.MFTMetrics
}

// NewEngine assembles the session registry and the protocol engine on st,
// creates the transfer directories, and registers the configured partners.
// m may be nil.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	st, _ := config.OpenStore(cfg)
//	eng, err := config.NewEngine(ctx, cfg, st, nil)
//	adapter, err := mft.New(eng.Network, eng.Handler, nil)
func NewEngine(ctx context.Context, cfg *Config, st transfer.Store, m metrics.MFTMetrics) (*Engine, error) {
	rules, err := cfg.RuleSet()
	if err != nil {
		return nil, err
	}
	hcfg, err := cfg.HandlerConfig()
	if err != nil {
		return nil, err
	}
	network, err := cfg.NetworkConfig()
	if err != nil {
		return nil, err
	}

	fs, err := cfg.Filesystem()
	if err != nil {
		return nil, err
	}
	for _, dir := range transferDirs(hcfg, rules) {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create transfer directory %s: %w", dir, err)
		}
	}

	reg := session.NewRegistry(cfg.SessionConfig(), nil)
	h := handlers.New(hcfg, reg, st, rules, fs)
	h.SetResolver(mft.NewCachingResolver(0, network.ResolverTTL))
	if m != nil {
		h.SetMetrics(m)
	}
	if cfg.S3.Enabled {
		objects, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		h.SetObjectStore(objects)
		logger.Info("S3 tasks enabled", "region", cfg.S3.Region, "endpoint", cfg.S3.Endpoint)
	}

	if err := SyncPartners(ctx, cfg, st); err != nil {
		return nil, err
	}

	logger.Info("Engine initialized",
		logger.KeyHostID, hcfg.HostID,
		"rules", len(rules.Names()),
		"partners", len(cfg.Partners),
		logger.KeyDigestAlgo, string(hcfg.DigestAlgo))

	return &Engine{Store: st, Registry: reg, Handler: h, Network: network, Metrics: m}, nil
}

// SessionConfig returns the registry retry bounds.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		RetryCount:       c.Transfer.RetryCount,
		RetryDelay:       c.Transfer.RetryDelay,
		DeferredAttempts: c.Transfer.DeferredAttempts,
		DeferredDelay:    c.Transfer.DeferredDelay,
		WaitForNetOp:     c.Transfer.WaitForNetOp,
	}
}

// HandlerConfig returns the protocol engine settings.
func (c *Config) HandlerConfig() (handlers.Config, error) {
	algo, err := digest.Parse(c.Transfer.Digest)
	if err != nil {
		return handlers.Config{}, fmt.Errorf("transfer.digest: %w", err)
	}
	global := c.Transfer.GlobalDigest == nil || *c.Transfer.GlobalDigest

	cfg := handlers.Config{
		HostID:             c.Host.ID,
		HostKey:            []byte(c.Host.Key),
		DefaultBlockSize:   int32(c.Transfer.BlockSize),
		MaxBlockSize:       int32(c.Transfer.MaxBlockSize),
		MaxRankMismatch:    c.Transfer.MaxRankMismatch,
		RankRestart:        c.Transfer.RankRestart,
		DigestAlgo:         algo,
		GlobalDigest:       global,
		LocalDigest:        c.Transfer.LocalDigest,
		CheckRemoteAddress: c.Transfer.CheckRemoteAddress,
		CheckClientAddress: c.Transfer.CheckClientAddress,
		TestEchoCount:      c.Transfer.TestEchoCount,
		ConnectTimeout:     c.Transfer.ConnectTimeout,
		RequestTimeout:     c.Transfer.RequestTimeout,
		CloseDelay:         c.Transfer.CloseDelay,
		SessionLimit:       c.Bandwidth.Session.Int64(),
		WorkPath:           c.Transfer.WorkPath,
		RecvPath:           c.Transfer.RecvPath,
		SendPath:           c.Transfer.SendPath,
	}
	if c.Host.AdminKey != "" {
		cfg.AdminKey = []byte(c.Host.AdminKey)
	}
	return cfg, nil
}

// NetworkConfig returns the listener and dialer settings.
func (c *Config) NetworkConfig() (mft.Config, error) {
	var cfg mft.Config
	cfg.BindAddress = c.Server.BindAddress
	cfg.Port = c.Server.Port
	cfg.MaxConnections = c.Server.MaxConnections
	cfg.ShutdownTimeout = c.ShutdownTimeout
	cfg.KeepAliveInterval = c.Server.KeepAlive
	cfg.MaxFrameSize = int(c.Server.MaxFrameSize)
	cfg.MaxSessionsPerConn = c.Server.MaxSessionsPerConn
	cfg.BlacklistDuration = c.Server.Blacklist.Duration
	cfg.BlacklistSize = c.Server.Blacklist.Size
	cfg.ReadLimit = c.Bandwidth.GlobalRead.Int64()
	cfg.WriteLimit = c.Bandwidth.GlobalWrite.Int64()
	cfg.WriteTimeout = c.Server.WriteTimeout
	cfg.ConnectRetries = c.Server.ConnectRetries
	cfg.ConnectRetryDelay = c.Server.ConnectRetryDelay
	cfg.ResolverTTL = c.Server.ResolverTTL

	if c.Server.TLS.Enabled {
		server, client, err := loadTLS(&c.Server.TLS)
		if err != nil {
			return mft.Config{}, err
		}
		cfg.TLS = server
		cfg.ClientTLS = client
	}
	return cfg, nil
}

// loadTLS builds the listener and dialer TLS configurations. The same
// certificate is presented on both sides.
func loadTLS(c *TLSConfig) (server, client *tls.Config, err error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}
	server = &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	client = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, nil, fmt.Errorf("no certificate found in %s", c.CAFile)
		}
		server.ClientCAs = pool
		server.ClientAuth = tls.VerifyClientCertIfGiven
		client.RootCAs = pool
	}
	return server, client, nil
}

// RuleSet converts the configured rules.
func (c *Config) RuleSet() (*transfer.RuleSet, error) {
	rules := make([]*transfer.Rule, 0, len(c.Rules))
	for i := range c.Rules {
		rc := &c.Rules[i]
		mode := packet.ParseMode(rc.Mode)
		if mode == packet.ModeUnknown {
			return nil, fmt.Errorf("rule %q: unknown mode %q", rc.Name, rc.Mode)
		}
		rules = append(rules, &transfer.Rule{
			Name:           rc.Name,
			Mode:           mode,
			Hosts:          rc.Hosts,
			RecvPath:       rc.RecvPath,
			SendPath:       rc.SendPath,
			WorkPath:       rc.WorkPath,
			RecvPreTasks:   rc.RecvPreTasks,
			RecvPostTasks:  rc.RecvPostTasks,
			RecvErrorTasks: rc.RecvErrorTasks,
			SendPreTasks:   rc.SendPreTasks,
			SendPostTasks:  rc.SendPostTasks,
			SendErrorTasks: rc.SendErrorTasks,
		})
	}
	return transfer.NewRuleSet(rules...), nil
}

// Filesystem returns the OS filesystem rooted at transfer.root. Rule and
// engine directories are paths inside it.
func (c *Config) Filesystem() (afero.Fs, error) {
	if err := os.MkdirAll(c.Transfer.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transfer root: %w", err)
	}
	return afero.NewBasePathFs(afero.NewOsFs(), c.Transfer.Root), nil
}

func transferDirs(cfg handlers.Config, rules *transfer.RuleSet) []string {
	dirs := []string{cfg.WorkPath, cfg.RecvPath, cfg.SendPath}
	for _, name := range rules.Names() {
		r, err := rules.Get(name)
		if err != nil {
			continue
		}
		for _, d := range []string{r.WorkPath, r.RecvPath, r.SendPath} {
			if d != "" {
				dirs = append(dirs, d)
			}
		}
	}
	return dirs
}
