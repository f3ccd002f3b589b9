package config

import "time"

// Config is the on-disk evaluation and tracking configuration.
type Config struct {
	Version    int               `yaml:"version"`
	Evaluation EvaluationSection `yaml:"evaluation"`
	Tracking   TrackingSection   `yaml:"tracking"`
	Params     map[string]any    `yaml:"params"`
	Metrics    MetricsSection    `yaml:"metrics"`
	Notify     NotifySection     `yaml:"notify"`
	Log        LogSection        `yaml:"log"`
}

type EvaluationSection struct {
	ModelPath       string      `yaml:"model_path"`
	DataDir         string      `yaml:"data_dir"`
	ImageSize       []int       `yaml:"image_size"`
	BatchSize       int         `yaml:"batch_size"`
	ValidationSplit float64     `yaml:"validation_split"`
	Rescale         float64     `yaml:"rescale"`
	ScoresPath      string      `yaml:"scores_path"`
	ONNX            ONNXSection `yaml:"onnx"`
}

// ONNXSection configures the ONNX Runtime model backend.
type ONNXSection struct {
	LibraryPath string `yaml:"library_path"`
	Input       string `yaml:"input"`
	Output      string `yaml:"output"`
}

type TrackingSection struct {
	URI         string        `yaml:"uri"`
	RegistryURI string        `yaml:"registry_uri"`
	Experiment  string        `yaml:"experiment"`
	RunName     string        `yaml:"run_name"`
	Timeout     time.Duration `yaml:"timeout"`

	// Credentials are read from the environment only.
	Username string `yaml:"-"`
	Password string `yaml:"-"`
	Token    string `yaml:"-"`
}

type MetricsSection struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

type NotifySection struct {
	Kafka KafkaSection `yaml:"kafka"`
}

type KafkaSection struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults used when a key is absent from the config file.
const (
	DefaultBatchSize       = 16
	DefaultValidationSplit = 0.30
	DefaultRescale         = 1.0 / 255.0
	DefaultScoresPath      = "scores.json"
	DefaultExperiment      = "Default"
	DefaultMetricsJob      = "evaltrack"
	DefaultKafkaTopic      = "evaltrack.runs"
)

// Default returns a config populated with default values.
func Default() Config {
	return Config{
		Version: 1,
		Evaluation: EvaluationSection{
			ImageSize:       []int{224, 224, 3},
			BatchSize:       DefaultBatchSize,
			ValidationSplit: DefaultValidationSplit,
			Rescale:         DefaultRescale,
			ScoresPath:      DefaultScoresPath,
		},
		Tracking: TrackingSection{
			Experiment: DefaultExperiment,
		},
		Metrics: MetricsSection{
			Job: DefaultMetricsJob,
		},
		Notify: NotifySection{
			Kafka: KafkaSection{Topic: DefaultKafkaTopic, ClientID: "evaltrack"},
		},
		Log: LogSection{
			Level:  "info",
			Format: "text",
		},
	}
}
