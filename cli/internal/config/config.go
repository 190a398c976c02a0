// Package config reads and writes the drcctl profile file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const DefaultServerURL = "http://localhost:8090"

type Config struct {
	CurrentProfile string              `yaml:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	Defaults       *Defaults           `yaml:"defaults,omitempty"`
	path           string
}

// Profile points drcctl at one reconcile deployment. AckSecret, when set,
// signs the bearer tokens drcctl sends: ack-scoped for "drcctl ack",
// operator-scoped for everything else.
type Profile struct {
	ServerURL string `yaml:"server_url"`
	AckSecret string `yaml:"ack_secret,omitempty"`
}

type Defaults struct {
	ServerURL string `yaml:"server_url"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
		Defaults:       &Defaults{ServerURL: DefaultServerURL},
	}
}

func defaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".drcctl", "config.yaml"), nil
}

// Load reads cfgFile, or $HOME/.drcctl/config.yaml when empty. A missing
// file yields the defaults. DRCCTL_SERVER_URL overrides the default URL.
func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		p, err := defaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = p
	}

	cfg := Default()
	cfg.path = cfgFile

	data, err := os.ReadFile(cfgFile)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", cfgFile, err)
		}
	}

	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}
	if cfg.Defaults == nil {
		cfg.Defaults = &Defaults{}
	}
	if cfg.Defaults.ServerURL == "" {
		cfg.Defaults.ServerURL = DefaultServerURL
	}
	if url := os.Getenv("DRCCTL_SERVER_URL"); url != "" {
		cfg.Defaults.ServerURL = url
	}

	return cfg, nil
}

func (c *Config) Save() error {
	if c.path == "" {
		p, err := defaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

func (c *Config) SaveProfile(name, serverURL, ackSecret string) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}

	c.Profiles[name] = &Profile{
		ServerURL: serverURL,
		AckSecret: ackSecret,
	}

	c.CurrentProfile = name
	return c.Save()
}

func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	return profile, nil
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}

	return c.Save()
}

// GetServerURL returns the profile's server URL, falling back to the
// default.
func (c *Config) GetServerURL(profile string) string {
	if p, err := c.GetProfile(profile); err == nil && p.ServerURL != "" {
		return p.ServerURL
	}
	if c.Defaults != nil && c.Defaults.ServerURL != "" {
		return c.Defaults.ServerURL
	}
	return DefaultServerURL
}
