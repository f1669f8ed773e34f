package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/flagx"
	"github.com/dmitrijs2005/vitaltags/internal/timex"
	"gopkg.in/yaml.v2"
)

// JsonRateLimits mirrors RateLimits for the config file.
type JsonRateLimits struct {
	PublicRead     int `json:"public_read" yaml:"public_read"`
	Request        int `json:"request" yaml:"request"`
	Revoke         int `json:"revoke" yaml:"revoke"`
	BreakGlassRead int `json:"break_glass_read" yaml:"break_glass_read"`
	Reveal         int `json:"reveal" yaml:"reveal"`
	NFCVerify      int `json:"nfc_verify" yaml:"nfc_verify"`
}

// JsonConfig is the on-disk shape of the config file, JSON or YAML by
// extension. Durations accept either "15m" or integer nanoseconds. Absent or zero fields leave the
// current value alone.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	Storage                     string         `json:"storage" yaml:"storage"`
	DatabaseDSN                 string         `json:"database_dsn" yaml:"database_dsn"`
	LogLevel                    string         `json:"log_level" yaml:"log_level"`
	SecretKey                   string         `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	BreakGlassTTL               timex.Duration `json:"break_glass_ttl" yaml:"break_glass_ttl"`
	SingleUseTokens             *bool          `json:"single_use_tokens" yaml:"single_use_tokens"`
	RevealHandleTTL             timex.Duration `json:"reveal_handle_ttl" yaml:"reveal_handle_ttl"`
	NFCPolicy                   string         `json:"nfc_policy" yaml:"nfc_policy"`
	AuditFailureThreshold       int            `json:"audit_failure_threshold" yaml:"audit_failure_threshold"`
	RateLimitBackend            string         `json:"rate_limit_backend" yaml:"rate_limit_backend"`
	RateLimitDir                string         `json:"rate_limit_dir" yaml:"rate_limit_dir"`
	RateLimitWindow             timex.Duration `json:"rate_limit_window" yaml:"rate_limit_window"`
	RateLimits                  JsonRateLimits `json:"rate_limits" yaml:"rate_limits"`
	NotifyEmailWebhook          string         `json:"notify_email_webhook" yaml:"notify_email_webhook"`
	NotifySMSWebhook            string         `json:"notify_sms_webhook" yaml:"notify_sms_webhook"`
	NotifyTimeout               timex.Duration `json:"notify_timeout" yaml:"notify_timeout"`
	S3RootUser                  string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region                    string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	ExportURLValidity           timex.Duration `json:"export_url_validity" yaml:"export_url_validity"`
}

// parseJson overlays the file named by -c/-config onto config. Key material
// is not accepted here; it comes from the environment only.
func parseJson(config *Config) error {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return err
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.Storage, c.Storage)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.NFCPolicy, c.NFCPolicy)
	setString(&config.RateLimitBackend, c.RateLimitBackend)
	setString(&config.RateLimitDir, c.RateLimitDir)
	setString(&config.NotifyEmailWebhook, c.NotifyEmailWebhook)
	setString(&config.NotifySMSWebhook, c.NotifySMSWebhook)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.BreakGlassTTL, c.BreakGlassTTL)
	setDuration(&config.RevealHandleTTL, c.RevealHandleTTL)
	setDuration(&config.RateLimitWindow, c.RateLimitWindow)
	setDuration(&config.ExportURLValidity, c.ExportURLValidity)
	setDuration(&config.NotifyTimeout, c.NotifyTimeout)

	if c.SingleUseTokens != nil {
		config.SingleUseTokens = *c.SingleUseTokens
	}
	setInt(&config.AuditFailureThreshold, c.AuditFailureThreshold)
	setInt(&config.RateLimits.PublicRead, c.RateLimits.PublicRead)
	setInt(&config.RateLimits.Request, c.RateLimits.Request)
	setInt(&config.RateLimits.Revoke, c.RateLimits.Revoke)
	setInt(&config.RateLimits.BreakGlassRead, c.RateLimits.BreakGlassRead)
	setInt(&config.RateLimits.Reveal, c.RateLimits.Reveal)
	setInt(&config.RateLimits.NFCVerify, c.RateLimits.NFCVerify)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
