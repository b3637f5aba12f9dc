package main

import "github.com/urfave/cli"

var (
	dbPath          string
	basePath        string
	credentialsPath string
	verifyTLS       bool
	threadsPerHost  int
	maxThreads      int
)

var runFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "db",
		Usage:       "catalog database path",
		EnvVar:      "ESGFETCH_DATABASE_FILE",
		Value:       "esgfetch.db",
		Destination: &dbPath,
	},
	cli.StringFlag{
		Name:        "base-path",
		Usage:       "directory downloaded files are written under",
		EnvVar:      "ESGFETCH_BASE_PATH",
		Value:       ".",
		Destination: &basePath,
	},
	cli.StringFlag{
		Name:        "credentials",
		Usage:       "ESGF client certificate PEM path",
		EnvVar:      "ESGFETCH_CREDENTIALS_PATH",
		Destination: &credentialsPath,
	},
	cli.BoolFlag{
		Name:        "verify-tls",
		Usage:       "verify data node TLS certificates",
		EnvVar:      "ESGFETCH_VERIFY_TLS",
		Destination: &verifyTLS,
	},
	cli.IntFlag{
		Name:        "threads-per-host",
		Usage:       "initial concurrent transfers per data node",
		EnvVar:      "ESGFETCH_INITIAL_THREADS_PER_HOST",
		Value:       3,
		Destination: &threadsPerHost,
	},
	cli.IntFlag{
		Name:        "max-threads",
		Usage:       "global concurrent transfer cap",
		EnvVar:      "ESGFETCH_MAX_TOTAL_THREADS",
		Value:       100,
		Destination: &maxThreads,
	},
}

var listFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "db",
		Usage:       "catalog database path",
		EnvVar:      "ESGFETCH_DATABASE_FILE",
		Value:       "esgfetch.db",
		Destination: &dbPath,
	},
	cli.StringFlag{
		Name:  "status",
		Usage: "status to list: waiting, running, done, or error",
		Value: "waiting",
	},
}

var requeueFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "db",
		Usage:       "catalog database path",
		EnvVar:      "ESGFETCH_DATABASE_FILE",
		Value:       "esgfetch.db",
		Destination: &dbPath,
	},
	cli.Int64Flag{
		Name:  "transfer-id",
		Usage: "requeue a single transfer by id (0 requeues every error row)",
	},
}
