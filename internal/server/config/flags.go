package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   REST bind address (e.g., ":8080")
//	-g string   gRPC bind address (e.g., ":50051")
//	-m string   storage backend: "postgres" or "memory"
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-p string   casbin policy file
//	-r string   settings registry YAML file
//	-i int      scheduled publish interval, seconds (0 disables)
//	-l string   log level
//	-x          admit unregistered setting ids
//	-e          reject inserts without title and data
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.Set, avoiding collisions with other components.
//   - Duration flags are accepted as integers and converted to time.Duration;
//     when absent, durations from the JSON file or environment are kept.
func parseFlags(config *Config) {
	args := flagx.Set{
		Value: []string{"-a", "-g", "-m", "-d", "-s", "-t", "-p", "-r", "-i", "-l"},
		Bool:  []string{"-x", "-e"},
	}.Filter(os.Args[1:])

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port of the REST endpoint")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port of the gRPC endpoint")
	fs.StringVar(&config.Storage, "m", config.Storage, "storage backend (postgres|memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.PolicyPath, "p", config.PolicyPath, "casbin policy file")
	fs.StringVar(&config.SettingsPath, "r", config.SettingsPath, "settings registry file")

	publishInterval := fs.Int("i", int(config.PublishInterval.Seconds()), "scheduled publish interval (in seconds)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.BoolVar(&config.AllowUnrecognized, "x", config.AllowUnrecognized, "admit unregistered setting ids")
	fs.BoolVar(&config.RejectEmptyContent, "e", config.RejectEmptyContent, "reject changesets without title and data")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// only flags given on the command line override earlier layers
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
		case "i":
			config.PublishInterval = time.Duration(*publishInterval) * time.Second
		}
	})
}
