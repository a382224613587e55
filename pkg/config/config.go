package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".dbgcoord"
	configFile string = "config.yml"

	// DefaultCodeContextCacheSize is used when the configuration does not
	// set code-context-cache-size.
	DefaultCodeContextCacheSize = 256
)

// SubstitutePathRule describes a rule for substitution of path to source code file.
type SubstitutePathRule struct {
	// Directory path will be substituted if it matches `From`.
	From string
	// Path to which substitution is performed.
	To string
}

// SubstitutePathRules is a slice of source code path substitution rules.
type SubstitutePathRules []SubstitutePathRule

// Config defines all configuration options available to be set through
// the config file and the environment.
type Config struct {
	// Source code path substitution rules, applied before the directory
	// mappings of a launch.
	SubstitutePath SubstitutePathRules `yaml:"substitute-path"`

	// DefaultVersion is the interpreter version used when a launch does
	// not carry a VERSION option.
	DefaultVersion string `yaml:"default-version,omitempty" env:"DBGCOORD_DEFAULT_VERSION"`

	// ExceptionMode is the initial break mode for exceptions without a
	// filter entry: never, raised, uncaught or raised|uncaught.
	ExceptionMode string `yaml:"exception-mode,omitempty"`

	// StopOnEntry breaks as soon as the program has finished loading.
	StopOnEntry bool `yaml:"stop-on-entry"`

	// CodeContextCacheSize bounds the number of cached source position
	// lookups per session.
	CodeContextCacheSize int `yaml:"code-context-cache-size,omitempty" env:"DBGCOORD_CODE_CONTEXT_CACHE_SIZE"`

	// Listen and LogOutput only come from the environment.
	Listen    string `yaml:"-" env:"DBGCOORD_LISTEN"`
	LogOutput string `yaml:"-" env:"DBGCOORD_LOG_OUTPUT"`
}

// CacheSize returns CodeContextCacheSize, or the default when unset.
func (c *Config) CacheSize() int {
	if c.CodeContextCacheSize <= 0 {
		return DefaultCodeContextCacheSize
	}
	return c.CodeContextCacheSize
}

// LoadConfig attempts to populate a Config object from the config.yml file
// and then overlays the DBGCOORD_* environment variables.
func LoadConfig() *Config {
	c := loadConfigFile()
	if err := ParseEnv(c); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read configuration from environment: %v.\n", err)
	}
	return c
}

// ParseEnv overlays the environment variables named by the env tags of
// target. Variables that are not set leave the field untouched.
func ParseEnv(target interface{}) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func loadConfigFile() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return &Config{}
		}
	}
	defer f.Close()

	c, err := readConfig(f.Name())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v.\n", err)
		return &Config{}
	}
	return c
}

func readConfig(name string) (*Config, error) {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the dbgcoord debug engine.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Define sources path substitution rules. Applied to source paths before the
# DIR_MAPPING pairs of a launch.
substitute-path:
  # - {from: path, to: path}

# Interpreter version used when a launch does not specify VERSION.
# default-version: V27

# Initial break mode for exceptions: never, raised, uncaught, raised|uncaught.
# exception-mode: uncaught

# Break as soon as the program has finished loading.
# stop-on-entry: false

# Number of source position lookups cached per session.
# code-context-cache-size: 256
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	if home := os.Getenv("HOME"); home != "" {
		userHomeDir = home
	} else if usr, err := user.Current(); err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
