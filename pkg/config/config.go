package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Port the worker report channel binds to
	OrchestratorPort int

	// Request channel address of the computing environment
	CompEnvAddress string

	// How long the computing environment is given to answer HELLO
	CompEnvStartup time.Duration

	// Number of concurrently running recommendation managers
	Workers int

	// Worker name prefix, workers are named <prefix>0..<prefix>n-1
	WorkerPrefix string

	// Status HTTP port, 0 disables the status server
	StatusPort int

	// Topic the computing environment reads training data from
	DataTopic string

	// Container images for the managed infrastructure
	DatastreamImage string
	CompEnvImage    string
	WorkerImage     string

	// Directory holding flume agent configurations, shared with the datastream manager
	FlumeConfigDir string
	// Flume log4j configurations on the datastream manager
	FlumeLogDir string

	// Worker i accepts events from its intake agent on WorkerIntakePort+i
	WorkerIntakePort int
	// Port the recommendation delivery agent listens on
	DeliveryPort int
}

// LoadConfig reads configuration from environment variables with sensible defaults
func LoadConfig() *Config {
	return &Config{
		OrchestratorPort: getEnvAsInt("ORCHESTRATOR_PORT", 2761),
		CompEnvAddress:   getEnvAsString("COMP_ENV_ADDRESS", "tcp://192.168.22.100:2760"),
		CompEnvStartup:   getEnvAsDuration("COMP_ENV_STARTUP", 20*time.Second),
		Workers:          getEnvAsInt("RECOMMENDATION_MANAGERS", 1),
		WorkerPrefix:     getEnvAsString("WORKER_PREFIX", "RM"),
		StatusPort:       getEnvAsInt("STATUS_PORT", 3000),
		DataTopic:        getEnvAsString("DATA_TOPIC", "data"),
		DatastreamImage:  getEnvAsString("DATASTREAM_IMAGE", "idomaar-datastreammanager:latest"),
		CompEnvImage:     getEnvAsString("COMP_ENV_IMAGE", "idomaar-computingenvironment:latest"),
		WorkerImage:      getEnvAsString("WORKER_IMAGE", "stream-orchestrator-worker:latest"),
		FlumeConfigDir:   getEnvAsString("FLUME_CONFIG_DIR", "/vagrant/flume-config/config"),
		FlumeLogDir:      getEnvAsString("FLUME_LOG_DIR", "/vagrant/flume-config/log4j"),
		WorkerIntakePort: getEnvAsInt("WORKER_INTAKE_PORT", 8080),
		DeliveryPort:     getEnvAsInt("DELIVERY_PORT", 5140),
	}
}

func getEnvAsString(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

// Accepts Go durations ("20s") or plain seconds ("20").
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
