package config

import "strings"

// Normalize trims free-form values and fills derived defaults.
func Normalize(cfg *Config) {
	cfg.Evaluation.ModelPath = strings.TrimSpace(cfg.Evaluation.ModelPath)
	cfg.Evaluation.DataDir = strings.TrimSpace(cfg.Evaluation.DataDir)
	cfg.Evaluation.ScoresPath = strings.TrimSpace(cfg.Evaluation.ScoresPath)
	if len(cfg.Evaluation.ImageSize) == 2 {
		cfg.Evaluation.ImageSize = append(cfg.Evaluation.ImageSize[:2:2], 3)
	}

	cfg.Tracking.URI = strings.TrimRight(strings.TrimSpace(cfg.Tracking.URI), "/")
	cfg.Tracking.RegistryURI = strings.TrimRight(strings.TrimSpace(cfg.Tracking.RegistryURI), "/")
	if cfg.Tracking.RegistryURI == "" {
		cfg.Tracking.RegistryURI = cfg.Tracking.URI
	}
	cfg.Tracking.Experiment = strings.TrimSpace(cfg.Tracking.Experiment)

	var brokers []string
	for _, broker := range cfg.Notify.Kafka.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	cfg.Notify.Kafka.Brokers = brokers

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
}
