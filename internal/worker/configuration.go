package worker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// ConfigurationFile is the shared flume configuration every recommendation
// manager is started with.
const ConfigurationFile = "kafka-TO-recommendation.conf"

// Agents defined in ConfigurationFile.
const (
	// IntakeAgent reads recommendation requests from kafka and posts each
	// event to the worker named by IntakeEnv. One runs per worker.
	IntakeAgent = "a1"
	// DeliveryAgent accepts recommendations over HTTP on DeliveryPortEnv
	// and writes them to the recommendation target. One runs per run.
	DeliveryAgent = "a2"
)

// Environment the agents resolve when launched with EnvResolver.
const (
	IntakeEnv       = "WORKER_INTAKE"
	DeliveryPortEnv = "DELIVERY_PORT"
	EnvResolver     = "-DpropertiesImplementation=org.apache.flume.node.EnvVarResolverProperties"
)

// IntakePath is where a worker accepts events from its intake agent.
const IntakePath = "/events"

var configurationTemplate = template.Must(template.New("flume").Parse(`# generated by stream-orchestrator
a1.sources = kafka
a1.channels = mem
a1.sinks = worker

a1.sources.kafka.type = org.apache.flume.source.kafka.KafkaSource
a1.sources.kafka.topic = {{ .Topic }}
a1.sources.kafka.channels = mem

a1.channels.mem.type = memory

a1.sinks.worker.type = http
a1.sinks.worker.endpoint = ${ {{- .IntakeEnv -}} }
a1.sinks.worker.contentTypeHeader = text/plain
a1.sinks.worker.defaultBackoff = true
a1.sinks.worker.defaultRollback = true
a1.sinks.worker.channel = mem

a2.sources = http
a2.channels = mem
a2.sinks = target

a2.sources.http.type = http
a2.sources.http.port = ${ {{- .DeliveryPortEnv -}} }
a2.sources.http.channels = mem

a2.channels.mem.type = memory

a2.sinks.target.type = {{ .SinkType }}
a2.sinks.target.{{ .SinkKey }} = {{ .Target }}
a2.sinks.target.channel = mem
`))

type configurationValues struct {
	Topic           string
	Target          string
	SinkType        string
	SinkKey         string
	IntakeEnv       string
	DeliveryPortEnv string
}

// WriteConfiguration renders the shared agent configuration delivering
// recommendations to target, either "kafka:<topic>" or a directory.
func WriteConfiguration(dir, topic, target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("recommendation target is required")
	}
	values := configurationValues{
		Topic:           topic,
		Target:          target,
		SinkType:        "file_roll",
		SinkKey:         "sink.directory",
		IntakeEnv:       IntakeEnv,
		DeliveryPortEnv: DeliveryPortEnv,
	}
	if t, ok := strings.CutPrefix(target, "kafka:"); ok {
		values.Target = t
		values.SinkType = "org.apache.flume.sink.kafka.KafkaSink"
		values.SinkKey = "topic"
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, ConfigurationFile)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := render(f, values); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// render writes the configuration and closes w. A failed close means the
// file may be incomplete.
func render(w io.WriteCloser, values configurationValues) error {
	if err := configurationTemplate.Execute(w, values); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
