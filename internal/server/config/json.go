package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/changesetd/internal/flagx"
	"github.com/dmitrijs2005/changesetd/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "30s" and integer nanoseconds are accepted. Pointer
// fields distinguish "absent" from "false" for booleans.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	Storage                     string         `json:"storage"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	PolicyPath                  string         `json:"policy_path"`
	SettingsPath                string         `json:"settings_path"`
	AllowUnrecognized           *bool          `json:"allow_unrecognized"`
	RejectEmptyContent          *bool          `json:"reject_empty_content"`
	PublishInterval             timex.Duration `json:"publish_interval"`
	LogLevel                    string         `json:"log_level"`
	CORSOrigins                 []string       `json:"cors_origins"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by the
// -c or -config flag into config. Values absent from the file keep what
// config already holds. An unreadable or malformed file panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.Storage, c.Storage)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.PolicyPath, c.PolicyPath)
	setString(&config.SettingsPath, c.SettingsPath)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	if c.AccessTokenValidityDuration.Duration != 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.PublishInterval.Duration != 0 {
		config.PublishInterval = c.PublishInterval.Duration
	}
	if c.AllowUnrecognized != nil {
		config.AllowUnrecognized = *c.AllowUnrecognized
	}
	if c.RejectEmptyContent != nil {
		config.RejectEmptyContent = *c.RejectEmptyContent
	}
	if len(c.CORSOrigins) > 0 {
		config.CORSOrigins = c.CORSOrigins
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
