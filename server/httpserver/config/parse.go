package config

import (
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// ServerFlagSet declares the command line overrides for the server config
// file.
func ServerFlagSet() *flag.FlagSet {
	cmdFlags := flag.NewFlagSet("server flagset", flag.ContinueOnError)
	cmdFlags.Int("port", 0, "API port, overriding the config file")
	cmdFlags.String("bind-addr", "", "Bind address template, overriding the config file")
	cmdFlags.String("log-level", "", "Log verbosity, overriding the config file")
	return cmdFlags
}

func Set(f string) (*Configs, error) {
	config := &Configs{}
	file, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	if err := GetYaml(file, config); err != nil {
		return nil, err
	}
	config.Defaults()
	if err := config.NormalizeAddrs(); err != nil {
		return nil, err
	}
	return config, nil
}

func GetYaml(f []byte, s interface{}) error {
	return yaml.Unmarshal(f, s)
}

func (c *Configs) ReconnectWait() time.Duration {
	return time.Duration(c.Nats.ReconnectWait) * time.Second
}
