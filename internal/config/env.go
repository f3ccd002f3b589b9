package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists the environment variables that take precedence over the
// config file. The MLflow names match the ones the MLflow client libraries read.
type envOverrides struct {
	TrackingURI  string   `envconfig:"MLFLOW_TRACKING_URI"`
	RegistryURI  string   `envconfig:"MLFLOW_REGISTRY_URI"`
	Experiment   string   `envconfig:"MLFLOW_EXPERIMENT_NAME"`
	Username     string   `envconfig:"MLFLOW_TRACKING_USERNAME"`
	Password     string   `envconfig:"MLFLOW_TRACKING_PASSWORD"`
	Token        string   `envconfig:"MLFLOW_TRACKING_TOKEN"`
	LogLevel     string   `envconfig:"EVALTRACK_LOG_LEVEL"`
	LogFormat    string   `envconfig:"EVALTRACK_LOG_FORMAT"`
	Pushgateway  string   `envconfig:"EVALTRACK_PUSHGATEWAY_URL"`
	KafkaBrokers []string `envconfig:"EVALTRACK_KAFKA_BROKERS"`
	ONNXLibrary  string   `envconfig:"ONNXRUNTIME_SHARED_LIBRARY_PATH"`
}

// ApplyEnv overlays environment overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	setIfPresent(&cfg.Tracking.URI, env.TrackingURI)
	setIfPresent(&cfg.Tracking.RegistryURI, env.RegistryURI)
	setIfPresent(&cfg.Tracking.Experiment, env.Experiment)
	setIfPresent(&cfg.Tracking.Username, env.Username)
	setIfPresent(&cfg.Tracking.Password, env.Password)
	setIfPresent(&cfg.Tracking.Token, env.Token)
	setIfPresent(&cfg.Log.Level, env.LogLevel)
	setIfPresent(&cfg.Log.Format, env.LogFormat)
	setIfPresent(&cfg.Metrics.PushgatewayURL, env.Pushgateway)
	setIfPresent(&cfg.Evaluation.ONNX.LibraryPath, env.ONNXLibrary)
	if len(env.KafkaBrokers) > 0 {
		cfg.Notify.Kafka.Brokers = env.KafkaBrokers
	}
	return nil
}

func setIfPresent(target *string, value string) {
	if strings.TrimSpace(value) != "" {
		*target = value
	}
}
