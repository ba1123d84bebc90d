package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-sockaddr/template"
)

type Configs struct {
	Auth struct {
		// HmacSecret signs the API tokens the server hands out.
		HmacSecret string `yaml:"hmac_secret"`
		// AdminToken is the shared secret exchanged for a JWT at login.
		AdminToken string `yaml:"admin_token"`
	} `yaml:"auth"`
	Hook struct {
		// Secret verifies webhook payload signatures. Empty disables
		// verification, which is only sensible on a closed network.
		Secret string `yaml:"secret"`
	} `yaml:"hook"`
	HTTPServer struct {
		// BindAddr takes a go-sockaddr template, so "{{ GetPrivateIP }}"
		// works on multi-homed hosts.
		BindAddr string `yaml:"bind_addr"`
		Port     int    `yaml:"port"`
		// DataDir holds the server's copy of run logs.
		DataDir  string `yaml:"data_dir"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"httpserver"`
	Stream struct {
		// Port serves the websocket endpoint, separate from the API port.
		Port int `yaml:"port"`
		// TailLines is how many recent log lines a new live subscriber
		// receives before the stream picks up.
		TailLines int `yaml:"tail_lines"`
	} `yaml:"stream"`
	Nats struct {
		URL           string `yaml:"url"`
		Name          string `yaml:"name"`
		ReconnectWait int    `yaml:"reconnect_wait"`
		MaxReconnects int    `yaml:"max_reconnect"`
	} `yaml:"nats"`
	DB struct {
		Postgres struct {
			Username     string `yaml:"username"`
			Password     string `yaml:"password"`
			Host         string `yaml:"host"`
			Port         int    `yaml:"port"`
			DatabaseName string `yaml:"database_name"`
			SSLMode      string `yaml:"ssl_mode"`
		} `yaml:"postgres"`
	} `yaml:"db"`
	Redis struct {
		// Host empty turns the live tail cache off; subscribers then start
		// from the next line instead of recent history.
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
}

func (c *Configs) Defaults() {
	if c.HTTPServer.Port == 0 {
		c.HTTPServer.Port = 8100
	}
	if c.HTTPServer.LogLevel == "" {
		c.HTTPServer.LogLevel = "info"
	}
	if c.HTTPServer.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.HTTPServer.DataDir = filepath.Join(home, ".gantry", "server")
		} else {
			c.HTTPServer.DataDir = filepath.Join(os.TempDir(), "gantry", "server")
		}
	}
	if c.Stream.Port == 0 {
		c.Stream.Port = 8101
	}
	if c.Stream.TailLines <= 0 {
		c.Stream.TailLines = 200
	}
	if c.Nats.URL == "" {
		c.Nats.URL = "nats://127.0.0.1:4222"
	}
	if c.Nats.Name == "" {
		c.Nats.Name = "gantry-server"
	}
	if c.Nats.ReconnectWait <= 0 {
		c.Nats.ReconnectWait = 2
	}
	if c.Nats.MaxReconnects == 0 {
		c.Nats.MaxReconnects = 60
	}
	if c.DB.Postgres.Host == "" {
		c.DB.Postgres.Host = "127.0.0.1"
	}
	if c.DB.Postgres.Port == 0 {
		c.DB.Postgres.Port = 5432
	}
	if c.DB.Postgres.SSLMode == "" {
		c.DB.Postgres.SSLMode = "disable"
	}
	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}
}

// NormalizeAddrs resolves the bind address template to a single IP.
func (c *Configs) NormalizeAddrs() error {
	if c.HTTPServer.BindAddr == "" {
		return nil
	}
	ipStr, err := ParseSingleIPTemplate(c.HTTPServer.BindAddr)
	if err != nil {
		return fmt.Errorf("bind address resolution failed: %v", err)
	}
	c.HTTPServer.BindAddr = ipStr
	return nil
}

// ParseSingleIPTemplate is used as a helper function to parse out a single
// IP address from a config parameter.
func ParseSingleIPTemplate(ipTmpl string) (string, error) {
	out, err := template.Parse(ipTmpl)
	if err != nil {
		return "", fmt.Errorf("unable to parse address template %q: %v", ipTmpl, err)
	}

	ips := strings.Split(out, " ")
	switch len(ips) {
	case 0:
		return "", errors.New("no addresses found, please configure one")
	case 1:
		return ips[0], nil
	default:
		return "", fmt.Errorf("multiple addresses found (%q), please configure one", out)
	}
}

// PostgresURI assembles the lib/pq connection string.
func (c *Configs) PostgresURI() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Postgres.Host,
		c.DB.Postgres.Port,
		c.DB.Postgres.Username,
		c.DB.Postgres.Password,
		c.DB.Postgres.DatabaseName,
		c.DB.Postgres.SSLMode,
	)
}
