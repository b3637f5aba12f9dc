// Package config collects every tunable ESGFetch exposes, with the
// same default-constant-plus-struct-field shape config.go uses for
// DEF_MAX_PARTS and DEF_MAX_CONNS.
package config

import (
	"time"

	"github.com/warpdl/esgfetch/internal/httpsession"
	"github.com/warpdl/esgfetch/internal/worker"
	"github.com/warpdl/esgfetch/internal/writer"
)

const (
	DefaultDatabaseFile          = "esgfetch.db"
	DefaultBasePath              = "."
	DefaultInitialThreadsPerHost = 3
	DefaultMaxTotalThreads       = 100
	DefaultVerifyTLS             = false
	DefaultRequestTimeout        = 0 // disabled, preserves historical unbounded behavior
	DefaultBlockSize             = worker.DefaultBlockSize
	DefaultMaxQueueLen           = writer.DefaultMaxQueueLen
	DefaultTickInterval          = 100 * time.Millisecond
	DefaultRampDelay             = 200 * time.Millisecond
)

// Config is the full set of operator-facing settings a run of ESGFetch
// accepts. cmd/esgfetchd binds its command-line flags directly into
// these fields; cmd/esgfetch binds its flags to variables of its own.
type Config struct {
	DatabaseFile string
	BasePath     string

	Username   string
	Password   string
	AuthServer string

	InitialThreadsPerHost int
	MaxTotalThreads       int

	CredentialsPath string
	VerifyTLS       bool
	CABundlePath    string
	RequestTimeout  time.Duration

	BlockSize   int
	MaxQueueLen int

	TickInterval time.Duration
	RampDelay    time.Duration
}

// Default returns a Config populated with every package default.
func Default() Config {
	return Config{
		DatabaseFile:          DefaultDatabaseFile,
		BasePath:              DefaultBasePath,
		InitialThreadsPerHost: DefaultInitialThreadsPerHost,
		MaxTotalThreads:       DefaultMaxTotalThreads,
		CredentialsPath:       httpsession.DefaultCredentialsPath(),
		VerifyTLS:             DefaultVerifyTLS,
		RequestTimeout:        DefaultRequestTimeout,
		BlockSize:             DefaultBlockSize,
		MaxQueueLen:           DefaultMaxQueueLen,
		TickInterval:          DefaultTickInterval,
		RampDelay:             DefaultRampDelay,
	}
}

// SessionConfig projects the session-relevant fields into an
// httpsession.Config.
func (c Config) SessionConfig() httpsession.Config {
	return httpsession.Config{
		CredentialsPath: c.CredentialsPath,
		VerifyTLS:       c.VerifyTLS,
		CABundlePath:    c.CABundlePath,
		RequestTimeout:  c.RequestTimeout,
	}
}
