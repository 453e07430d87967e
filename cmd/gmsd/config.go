package main

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration, read from an optional config file and
// the environment.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	// Address is the address the member listens on for protocol traffic.
	Address string `mapstructure:"address"`
	// Peers are the addresses of existing members. Ignored when
	// EtcdEndpoints is set.
	Peers     []string `mapstructure:"peers"`
	Bootstrap bool     `mapstructure:"bootstrap"`
	Admin     bool     `mapstructure:"admin"`
	DataDir   string   `mapstructure:"data_dir"`

	EtcdEndpoints []string      `mapstructure:"etcd_endpoints"`
	EtcdPrefix    string        `mapstructure:"etcd_prefix"`
	EtcdTTL       time.Duration `mapstructure:"etcd_ttl"`

	// HTTPAddress serves the management routes and metrics.
	HTTPAddress string `mapstructure:"http_address"`
	PulseURL    string `mapstructure:"pulse_url"`

	ProbeInterval       time.Duration `mapstructure:"probe_interval"`
	MemberTimeout       time.Duration `mapstructure:"member_timeout"`
	QuorumLossThreshold float64       `mapstructure:"quorum_loss_threshold"`

	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

var defaultConfig = Config{
	LogLevel:            "info",
	Address:             "localhost:9090",
	DataDir:             "gms-data",
	EtcdPrefix:          "/gms/members/",
	EtcdTTL:             10 * time.Second,
	HTTPAddress:         ":9091",
	ShutdownGracePeriod: 10 * time.Second,
}

func init() {
	_ = viper.BindEnv("log_level", "GMS_LOG_LEVEL")

	_ = viper.BindEnv("address", "GMS_ADDRESS")
	_ = viper.BindEnv("peers", "GMS_PEERS")
	_ = viper.BindEnv("bootstrap", "GMS_BOOTSTRAP")
	_ = viper.BindEnv("admin", "GMS_ADMIN")
	_ = viper.BindEnv("data_dir", "GMS_DATA_DIR")

	_ = viper.BindEnv("etcd_endpoints", "GMS_ETCD_ENDPOINTS")
	_ = viper.BindEnv("etcd_prefix", "GMS_ETCD_PREFIX")
	_ = viper.BindEnv("etcd_ttl", "GMS_ETCD_TTL")

	_ = viper.BindEnv("http_address", "GMS_HTTP_ADDRESS")
	_ = viper.BindEnv("pulse_url", "GMS_PULSE_URL")

	_ = viper.BindEnv("probe_interval", "GMS_PROBE_INTERVAL")
	_ = viper.BindEnv("member_timeout", "GMS_MEMBER_TIMEOUT")
	_ = viper.BindEnv("quorum_loss_threshold", "GMS_QUORUM_LOSS_THRESHOLD")

	_ = viper.BindEnv("shutdown_grace_period", "GMS_SHUTDOWN_GRACE_PERIOD")
}
