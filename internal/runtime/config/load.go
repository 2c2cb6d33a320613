package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from a YAML file and MESHKIT_-prefixed environment
// variables. An empty path searches the working directory and ./configs for a
// meshkit.yaml; a missing file is not an error, defaults and environment
// variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshkit")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("MESHKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "")
	v.SetDefault("service.version", "0.0.0")

	v.SetDefault("pubsub.system", "channel")

	v.SetDefault("registry.heartbeat_interval", 30*time.Second)
	v.SetDefault("registry.heartbeat_ttl", 90*time.Second)
	v.SetDefault("registry.health_check_interval", 30*time.Second)
	v.SetDefault("registry.health_check_retries", 2)
	v.SetDefault("registry.cleanup_interval", 5*time.Minute)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.recovery_timeout", time.Minute)
	v.SetDefault("breaker.monitoring_period", time.Minute)
	v.SetDefault("breaker.minimum_throughput", 10)

	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.default_timeout", 30*time.Second)
	v.SetDefault("queue.max_retries", 3)

	v.SetDefault("tracing.retention", time.Hour)
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", 8081)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ServiceName:    v.GetString("service.name"),
		ServiceVersion: v.GetString("service.version"),

		PubSubSystem:       v.GetString("pubsub.system"),
		KafkaBrokers:       v.GetStringSlice("kafka.brokers"),
		KafkaClientID:      v.GetString("kafka.client_id"),
		KafkaConsumerGroup: v.GetString("kafka.consumer_group"),
		RabbitMQURL:        v.GetString("rabbitmq.url"),
		NATSURL:            v.GetString("nats.url"),
		HTTPServerAddress:  v.GetString("http.server_address"),
		HTTPPublisherURL:   v.GetString("http.publisher_url"),
		PostgresURL:        v.GetString("postgres.url"),
		PoisonQueue:        v.GetString("pubsub.poison_queue"),

		AWSRegion:          v.GetString("aws.region"),
		AWSAccountID:       v.GetString("aws.account_id"),
		AWSAccessKeyID:     v.GetString("aws.access_key_id"),
		AWSSecretAccessKey: v.GetString("aws.secret_access_key"),
		AWSEndpoint:        v.GetString("aws.endpoint"),

		EtcdEndpoints: v.GetStringSlice("etcd.endpoints"),
		EtcdUsername:  v.GetString("etcd.username"),
		EtcdPassword:  v.GetString("etcd.password"),

		HeartbeatInterval:   v.GetDuration("registry.heartbeat_interval"),
		HeartbeatTTL:        v.GetDuration("registry.heartbeat_ttl"),
		HealthCheckInterval: v.GetDuration("registry.health_check_interval"),
		HealthCheckRetries:  v.GetInt("registry.health_check_retries"),
		CleanupInterval:     v.GetDuration("registry.cleanup_interval"),

		BreakerFailureThreshold:  v.GetInt("breaker.failure_threshold"),
		BreakerRecoveryTimeout:   v.GetDuration("breaker.recovery_timeout"),
		BreakerMonitoringPeriod:  v.GetDuration("breaker.monitoring_period"),
		BreakerMinimumThroughput: v.GetInt("breaker.minimum_throughput"),

		QueueWorkers:        v.GetInt("queue.workers"),
		QueueDefaultTimeout: v.GetDuration("queue.default_timeout"),
		QueueMaxRetries:     v.GetInt("queue.max_retries"),

		TraceRetention:  v.GetDuration("tracing.retention"),
		TraceSampleRate: v.GetFloat64("tracing.sample_rate"),

		RetryMaxRetries:      v.GetInt("retry.max_retries"),
		RetryInitialInterval: v.GetDuration("retry.initial_interval"),
		RetryMaxInterval:     v.GetDuration("retry.max_interval"),

		MetricsEnabled: v.GetBool("metrics.enabled"),
		MetricsPort:    v.GetInt("metrics.port"),

		APIEnabled:            v.GetBool("api.enabled"),
		APIPort:               v.GetInt("api.port"),
		APICORSAllowedOrigins: v.GetStringSlice("api.cors_allowed_origins"),
	}
}
