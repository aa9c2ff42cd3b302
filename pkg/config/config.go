// Package config loads, defaults and validates the node configuration and
// builds the engine it describes.
package config

import (
	"time"

	"github.com/marmos91/dittomft/internal/bytesize"
	"github.com/marmos91/dittomft/pkg/transfer"
	"github.com/marmos91/dittomft/pkg/transfer/store"
	"github.com/marmos91/dittomft/pkg/transfer/store/badger"
	"github.com/marmos91/dittomft/pkg/transfer/tasks/s3"
)

// Config is everything a node reads at startup. Environment variables
// (DITTOMFT_SECTION_KEY) override the file, which overrides the defaults.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout bounds the drain of sessions and connections.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database selects where transfers and partners are persisted.
	// Type is one of sqlite, postgres or badger.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Badger configures the embedded store when Database.Type is badger.
	Badger badger.Config `mapstructure:"badger" yaml:"badger"`

	// Server configures the listening endpoint.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Host is the identity of this node.
	Host HostConfig `mapstructure:"host" yaml:"host"`

	// Transfer tunes the protocol engine.
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Bandwidth holds the global and per-session limits.
	Bandwidth BandwidthConfig `mapstructure:"bandwidth" yaml:"bandwidth"`

	// Partners are the hosts this node exchanges files with.
	Partners []PartnerConfig `mapstructure:"partners" validate:"dive" yaml:"partners"`

	// S3 configures the object store used by the S3 tasks.
	S3 s3.Config `mapstructure:"s3" yaml:"s3"`

	// Rules are the transfer rules known to this node.
	Rules []RuleConfig `mapstructure:"rules" validate:"dive" yaml:"rules"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR, in any case.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig exports one span per inbound packet and per transfer to
// an OTLP collector.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector, host:port.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces kept, from 0 to 1.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig pushes continuous profiles to a Pyroscope server.
type ProfilingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes are names such as cpu, inuse_space or goroutines.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig serves /metrics and /health. Nothing is collected when
// disabled.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ServerConfig configures the listening endpoint and the client dialer.
type ServerConfig struct {
	// BindAddress is the IP address to listen on. Empty binds every interface.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address"`

	// Port is the TCP port partners connect to.
	// Default: 6666
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// MaxConnections limits concurrent partner connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0" yaml:"max_connections"`

	// MaxSessionsPerConn bounds the sessions multiplexed on one connection.
	MaxSessionsPerConn int `mapstructure:"max_sessions_per_conn" validate:"gte=0" yaml:"max_sessions_per_conn"`

	// MaxFrameSize bounds one incoming frame ("1Mi", "4MB", ...).
	MaxFrameSize bytesize.ByteSize `mapstructure:"max_frame_size" yaml:"max_frame_size"`

	// KeepAlive is the idle time before a keepalive probe. 0 disables probes.
	KeepAlive time.Duration `mapstructure:"keepalive" validate:"gte=0" yaml:"keepalive"`

	// WriteTimeout bounds one frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0" yaml:"write_timeout"`

	// ConnectRetries and ConnectRetryDelay drive outgoing dials.
	ConnectRetries    int           `mapstructure:"connect_retries" validate:"gte=0" yaml:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay" validate:"gte=0" yaml:"connect_retry_delay"`

	// ResolverTTL is how long resolved partner addresses are cached.
	ResolverTTL time.Duration `mapstructure:"resolver_ttl" validate:"gte=0" yaml:"resolver_ttl"`

	// Blacklist refuses addresses that failed authentication.
	Blacklist BlacklistConfig `mapstructure:"blacklist" yaml:"blacklist"`

	// TLS enables TLS on the listener and configures the client side.
	TLS TLSConfig `mapstructure:"tls" yaml:"tls"`
}

// BlacklistConfig bounds the authentication blacklist.
type BlacklistConfig struct {
	Duration time.Duration `mapstructure:"duration" validate:"gte=0" yaml:"duration"`
	Size     int           `mapstructure:"size" validate:"gte=0" yaml:"size"`
}

// TLSConfig points at PEM files.
type TLSConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	CertFile string `mapstructure:"cert_file" validate:"required_if=Enabled true" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" validate:"required_if=Enabled true" yaml:"key_file"`

	// CAFile verifies partner certificates. Empty uses the system pool.
	CAFile string `mapstructure:"ca_file" yaml:"ca_file,omitempty"`

	// InsecureSkipVerify disables server certificate checks when dialing.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify,omitempty"`
}

// HostConfig is the local identity.
type HostConfig struct {
	// ID is the name partners know this node by.
	ID string `mapstructure:"id" validate:"required" yaml:"id"`

	// Key is the shared secret sent when authenticating to partners.
	Key string `mapstructure:"key" validate:"required" yaml:"key"`

	// AdminKey authorizes Shutdown and BlockRequest orders. Empty refuses them.
	AdminKey string `mapstructure:"admin_key" yaml:"admin_key,omitempty"`
}

// TransferConfig tunes the protocol engine.
type TransferConfig struct {
	// BlockSize is the default data block size.
	BlockSize bytesize.ByteSize `mapstructure:"block_size" yaml:"block_size"`

	// MaxBlockSize caps what a partner may ask for.
	MaxBlockSize bytesize.ByteSize `mapstructure:"max_block_size" yaml:"max_block_size"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0" yaml:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gte=0" yaml:"request_timeout"`

	// CloseDelay is the grace period before a closed session's pump stops.
	CloseDelay time.Duration `mapstructure:"close_delay" validate:"gte=0" yaml:"close_delay"`

	// RetryCount and RetryDelay bound session slot acquisition.
	RetryCount int           `mapstructure:"retry_count" validate:"gte=0" yaml:"retry_count"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gte=0" yaml:"retry_delay"`

	// MaxRankMismatch is how many out-of-order blocks a receiver tolerates.
	MaxRankMismatch int `mapstructure:"max_rank_mismatch" validate:"gte=0" yaml:"max_rank_mismatch"`

	// RankRestart is how many blocks a receiver backs off on restart. 0
	// resumes at the last acknowledged block.
	RankRestart int32 `mapstructure:"rank_restart" validate:"gte=0" yaml:"rank_restart"`

	// DeferredAttempts and DeferredDelay drive delivery to sessions that
	// are not registered yet.
	DeferredAttempts int           `mapstructure:"deferred_attempts" validate:"gte=0" yaml:"deferred_attempts"`
	DeferredDelay    time.Duration `mapstructure:"deferred_delay" validate:"gte=0" yaml:"deferred_delay"`

	// WaitForNetOp bounds best-effort sends during shutdown.
	WaitForNetOp time.Duration `mapstructure:"wait_for_net_op" validate:"gte=0" yaml:"wait_for_net_op"`

	// Digest is the preferred algorithm: MD5, SHA1, SHA256, SHA512, BLAKE2B or BLAKE3.
	Digest string `mapstructure:"digest" yaml:"digest"`

	// GlobalDigest enables the whole-transfer digest. Default: true
	GlobalDigest *bool `mapstructure:"global_digest" yaml:"global_digest"`

	// LocalDigest re-hashes received files once in place.
	LocalDigest bool `mapstructure:"local_digest" yaml:"local_digest"`

	// CheckRemoteAddress verifies partners connect from their declared address.
	CheckRemoteAddress bool `mapstructure:"check_remote_address" yaml:"check_remote_address"`

	// CheckClientAddress extends the check to client-only partners.
	CheckClientAddress bool `mapstructure:"check_client_address" yaml:"check_client_address"`

	// Root is the directory the engine's paths are resolved under.
	Root string `mapstructure:"root" yaml:"root"`

	WorkPath string `mapstructure:"work_path" yaml:"work_path"`
	RecvPath string `mapstructure:"recv_path" yaml:"recv_path"`
	SendPath string `mapstructure:"send_path" yaml:"send_path"`

	// TestEchoCount is how many times a Test packet bounces.
	TestEchoCount int32 `mapstructure:"test_echo_count" validate:"gte=0" yaml:"test_echo_count"`
}

// BandwidthConfig holds bytes-per-second limits. 0 means unlimited.
type BandwidthConfig struct {
	GlobalRead  bytesize.ByteSize `mapstructure:"global_read" yaml:"global_read"`
	GlobalWrite bytesize.ByteSize `mapstructure:"global_write" yaml:"global_write"`
	Session     bytesize.ByteSize `mapstructure:"session" yaml:"session"`
}

// PartnerConfig declares a remote host.
type PartnerConfig struct {
	ID      string `mapstructure:"id" validate:"required" yaml:"id"`
	Address string `mapstructure:"address" yaml:"address,omitempty"`
	Port    int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port,omitempty"`

	// Key is the secret the partner authenticates with.
	Key string `mapstructure:"key" validate:"required" yaml:"key"`

	TLS       bool `mapstructure:"tls" yaml:"tls,omitempty"`
	Proxified bool `mapstructure:"proxified" yaml:"proxified,omitempty"`

	// Client marks hosts that only ever dial in.
	Client bool `mapstructure:"client" yaml:"client,omitempty"`

	// Active defaults to true.
	Active *bool `mapstructure:"active" yaml:"active,omitempty"`

	Admin     bool   `mapstructure:"admin" yaml:"admin,omitempty"`
	Digest    string `mapstructure:"digest" yaml:"digest,omitempty"`
	FinalHash bool   `mapstructure:"final_hash" yaml:"final_hash,omitempty"`
}

// IsActive reports whether the partner may authenticate.
func (p *PartnerConfig) IsActive() bool {
	return p.Active == nil || *p.Active
}

// RuleConfig declares a transfer rule.
type RuleConfig struct {
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Mode is send, recv, sendmd5, recvmd5, sendthrough, ... as seen by the
	// requester.
	Mode string `mapstructure:"mode" validate:"required" yaml:"mode"`

	// Hosts restricts the rule to these partners. Empty allows all.
	Hosts []string `mapstructure:"hosts" yaml:"hosts,omitempty"`

	RecvPath string `mapstructure:"recv_path" yaml:"recv_path,omitempty"`
	SendPath string `mapstructure:"send_path" yaml:"send_path,omitempty"`
	WorkPath string `mapstructure:"work_path" yaml:"work_path,omitempty"`

	RecvPreTasks   []transfer.TaskSpec `mapstructure:"recv_pre_tasks" validate:"dive" yaml:"recv_pre_tasks,omitempty"`
	RecvPostTasks  []transfer.TaskSpec `mapstructure:"recv_post_tasks" validate:"dive" yaml:"recv_post_tasks,omitempty"`
	RecvErrorTasks []transfer.TaskSpec `mapstructure:"recv_error_tasks" validate:"dive" yaml:"recv_error_tasks,omitempty"`
	SendPreTasks   []transfer.TaskSpec `mapstructure:"send_pre_tasks" validate:"dive" yaml:"send_pre_tasks,omitempty"`
	SendPostTasks  []transfer.TaskSpec `mapstructure:"send_post_tasks" validate:"dive" yaml:"send_post_tasks,omitempty"`
	SendErrorTasks []transfer.TaskSpec `mapstructure:"send_error_tasks" validate:"dive" yaml:"send_error_tasks,omitempty"`
}
