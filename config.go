package main

import (
	"fmt"
	"strings"

	"github.com/horgh/config"
	"github.com/horgh/relayd/internal/command"
	"github.com/horgh/relayd/internal/ident"
	"github.com/pkg/errors"
)

// Config holds a server's configuration.
type Config struct {
	ListenHost  string
	ListenPort  string
	ServerName  string
	ServerInfo  string
	NetworkName string
	Version     string

	// TS6 SID. Must be unique in the network. Format: [0-9][A-Z0-9]{2}
	TS6SID ident.ServerID

	// LinkPassword is what we send back to a server that links to us.
	LinkPassword string

	// LinkAcceptPasswords are the passwords that upgrade a connection to a
	// server link.
	LinkAcceptPasswords []string

	// Opers are usernames of server operators. No command acts on it yet.
	Opers []string

	// MetricsListen is host:port for the Prometheus endpoint. Blank disables
	// it.
	MetricsListen string

	LogLevel string
}

// ListenAddress is where we accept connections.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%s", c.ListenHost, c.ListenPort)
}

// Secrets are the parts of the config that command handlers see.
func (c *Config) Secrets() command.Secrets {
	return command.Secrets{
		LinkPassword:    c.LinkPassword,
		AcceptPasswords: c.LinkAcceptPasswords,
	}
}

// loadConfig reads the file and checks configuration keys are present and in
// an acceptable format.
func loadConfig(file string) (*Config, error) {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config")
	}
	return parseConfig(configMap)
}

func parseConfig(configMap map[string]string) (*Config, error) {
	requiredKeys := []string{
		"listen-host",
		"listen-port",
		"server-name",
		"server-info",
		"network-name",
		"version",
		"ts6-sid",
		"link-password",
		"link-accept-passwords",
	}

	// Check each key we want is present and non-blank.
	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists {
			return nil, fmt.Errorf("missing required key: %s", key)
		}

		if len(v) == 0 {
			return nil, fmt.Errorf("configuration value is blank: %s", key)
		}
	}

	c := &Config{
		ListenHost:    configMap["listen-host"],
		ListenPort:    configMap["listen-port"],
		ServerName:    configMap["server-name"],
		ServerInfo:    configMap["server-info"],
		NetworkName:   configMap["network-name"],
		Version:       configMap["version"],
		LinkPassword:  configMap["link-password"],
		MetricsListen: configMap["metrics-listen"],
		LogLevel:      configMap["log-level"],
	}

	sid, err := ident.ParseServerID(configMap["ts6-sid"])
	if err != nil {
		return nil, errors.Wrap(err, "ts6-sid")
	}
	c.TS6SID = sid

	c.LinkAcceptPasswords = splitList(configMap["link-accept-passwords"])
	c.Opers = splitList(configMap["opers"])

	if len(c.LinkAcceptPasswords) == 0 {
		return nil, fmt.Errorf("link-accept-passwords has no passwords")
	}

	// Names go out as single IRC parameters.
	for key, v := range map[string]string{
		"server-name":   c.ServerName,
		"network-name":  c.NetworkName,
		"version":       c.Version,
		"link-password": c.LinkPassword,
	} {
		if strings.ContainsAny(v, " :") {
			return nil, fmt.Errorf("%s may not contain spaces or colons", key)
		}
	}

	return c, nil
}

// splitList reads a comma separated value. Blank entries are skipped.
func splitList(v string) []string {
	var items []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
