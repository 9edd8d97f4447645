// Package config loads arsync configuration from YAML.
package config

import (
	"io/ioutil"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/bobg/arsync/client"
	"github.com/bobg/arsync/replicaset"
)

type Config struct {
	Client  Client  `yaml:"client"`
	Replica Replica `yaml:"replica"`
}

// Client configures the sync command.
type Client struct {
	Dir           string        `yaml:"dir"`
	Listen        string        `yaml:"listen"`
	Replicas      []string      `yaml:"replicas"`
	ServerTimeout time.Duration `yaml:"server_timeout"`
	LoginTimeout  time.Duration `yaml:"login_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Debug         bool          `yaml:"debug"`
}

// Replica configures the serve command.
type Replica struct {
	Addr       string `yaml:"addr"`
	Dir        string `yaml:"dir"`
	HealthAddr string `yaml:"health_addr"`
	Debug      bool   `yaml:"debug"`

	// Auth configures the credential store.
	// Its "type" selects an auth.Store implementation;
	// the other keys are passed to it.
	Auth map[string]interface{} `yaml:"auth"`
}

// Default is the configuration used when no file is given.
func Default() Config {
	return Config{
		Client: Client{
			Dir:           "client_files",
			Listen:        ":0",
			ServerTimeout: replicaset.DefaultTimeout,
			LoginTimeout:  client.DefaultLoginTimeout,
			SweepInterval: client.DefaultSweepInterval,
		},
		Replica: Replica{
			Addr: ":9000",
			Dir:  "server_files",
			Auth: map[string]interface{}{"type": "sqlite3", "conn": "users.db"},
		},
	}
}

// Load reads the YAML file at path over the defaults.
// An empty path gives the defaults.
func Load(path string) (Config, error) {
	conf := Default()
	if path == "" {
		return conf, nil
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return conf, errors.Wrapf(err, "reading %s", path)
	}
	if err = yaml.Unmarshal(data, &conf); err != nil {
		return conf, errors.Wrapf(err, "parsing %s", path)
	}
	return conf, nil
}

func (c Client) Validate() error {
	if c.Dir == "" {
		return errors.New("client dir not set")
	}
	if len(c.Replicas) == 0 {
		return errors.New("no replicas")
	}
	if c.ServerTimeout <= 0 {
		return errors.New("server_timeout must be positive")
	}
	if c.LoginTimeout <= 0 {
		return errors.New("login_timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	return nil
}

func (r Replica) Validate() error {
	if r.Addr == "" {
		return errors.New("replica addr not set")
	}
	if r.Dir == "" {
		return errors.New("replica dir not set")
	}
	if _, ok := r.Auth["type"].(string); !ok {
		return errors.New(`auth config missing "type"`)
	}
	return nil
}

// ParseReplicas pairs comma-separated lists of hosts and ports into host:port strings.
// A single host applies to every port.
func ParseReplicas(hosts, ports string) ([]string, error) {
	h := splitList(hosts)
	p := splitList(ports)

	if len(p) == 0 {
		return nil, errors.New("no ports")
	}
	if len(h) == 1 {
		for len(h) < len(p) {
			h = append(h, h[0])
		}
	}
	if len(h) != len(p) {
		return nil, errors.Errorf("got %d hosts and %d ports", len(h), len(p))
	}

	var result []string
	for i := range h {
		result = append(result, h[i]+":"+p[i])
	}
	return result, nil
}

func splitList(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
