package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DatastreamConfigFile is the name of the datastream manager's host config,
// relative to the datastream manager directory.
const DatastreamConfigFile = "vagrant.yml"

// datastreamConfigMarshall mirrors vagrant.yml. It is mutable; seal it into
// Endpoints before use.
type datastreamConfigMarshall struct {
	Box *struct {
		IPAddress string `yaml:"ip_address"`
	} `yaml:"box"`
	Zookeeper *struct {
		Port int `yaml:"port"`
	} `yaml:"zookeeper"`
}

func (m *datastreamConfigMarshall) seal(path string) (*Endpoints, error) {
	if m.Box == nil || m.Box.IPAddress == "" {
		return nil, fmt.Errorf("%s: box.ip_address is required", path)
	}
	if m.Zookeeper == nil || m.Zookeeper.Port <= 0 || m.Zookeeper.Port > 65535 {
		return nil, fmt.Errorf("%s: zookeeper.port must be a valid port", path)
	}
	return &Endpoints{
		datastreamIP:  m.Box.IPAddress,
		zookeeperPort: m.Zookeeper.Port,
	}, nil
}

// Endpoints are the resolved network locations of the managed infrastructure.
// Immutable once read.
type Endpoints struct {
	datastreamIP  string
	zookeeperPort int
}

func NewEndpoints(datastreamIP string, zookeeperPort int) *Endpoints {
	return &Endpoints{datastreamIP: datastreamIP, zookeeperPort: zookeeperPort}
}

func (e *Endpoints) DatastreamIP() string {
	return e.datastreamIP
}

func (e *Endpoints) ZookeeperPort() int {
	return e.zookeeperPort
}

// ZookeeperHostPort is "<datastream ip>:<zookeeper port>".
func (e *Endpoints) ZookeeperHostPort() string {
	return net.JoinHostPort(e.datastreamIP, strconv.Itoa(e.zookeeperPort))
}

// OrchestratorIP is the address workers report to. The orchestrator runs
// next to the datastream manager.
func (e *Endpoints) OrchestratorIP() string {
	return e.datastreamIP
}

// ReadEndpoints loads <datastreamDir>/vagrant.yml.
func ReadEndpoints(datastreamDir string) (*Endpoints, error) {
	path := filepath.Join(datastreamDir, DatastreamConfigFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datastream config: %w", err)
	}
	return ParseEndpoints(path, raw)
}

func ParseEndpoints(name string, raw []byte) (*Endpoints, error) {
	m := &datastreamConfigMarshall{}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return m.seal(name)
}
