// Package config loads and validates a dslink's configuration: the
// broker connection, identity, redo log, QoS, and serializer settings
// named in spec.md §6.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order: an explicit
// override (from --config) is checked first by FindConfig; absent
// that, ./config.yaml, ~/.config/dslink/<name>/config.yaml,
// /etc/dslink/<name>/config.yaml, in that order.
func DefaultSearchPaths(linkName string) []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dslink", linkName, "config.yaml"))
	}
	paths = append(paths, filepath.Join("/etc/dslink", linkName, "config.yaml"))
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise DefaultSearchPaths(linkName) is searched in order.
func FindConfig(explicit, linkName string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := DefaultSearchPaths(linkName)
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config is a dslink's complete configuration surface, spec.md §6.
type Config struct {
	Broker   string `yaml:"broker"`
	Name     string `yaml:"name"`
	Token    string `yaml:"token"`
	LogLevel string `yaml:"log-level"`
	KeyFile  string `yaml:"key-file"`
	Workers  int    `yaml:"workers"`

	SSL             SSLConfig        `yaml:"ssl"`
	RedoLog         RedoLogConfig    `yaml:"redo_log"`
	QoS             QoSConfig        `yaml:"qos"`
	MaxSendQueueLen int              `yaml:"max_send_queue_length"`
	Serializer      SerializerConfig `yaml:"serializer"`
}

// SSLConfig controls the broker TLS dial. Certificate verification
// internals belong to the (out-of-scope) transport layer; this struct
// only carries the values it needs.
type SSLConfig struct {
	SelfSignedAllowed bool   `yaml:"self_signed_allowed"`
	CertsPath         string `yaml:"certs_path"`
	CAFile            string `yaml:"ca_file"`
	CipherList        string `yaml:"cipher_list"`
	VerifyPeer        bool   `yaml:"verify_peer"`
}

// RedoLogConfig controls the subscription engine's disk-backed QoS 2/3
// persistence, spec.md §4.4.
type RedoLogConfig struct {
	Path                     string `yaml:"path"`
	MaxEntriesPerFile        int    `yaml:"max_entries_per_file"`
	MaxSizePerFileBytes      int64  `yaml:"max_size_per_file_bytes"`
	MaxFilesPerLog           int    `yaml:"max_files_per_log"`
	FlushAfterWrite          bool   `yaml:"flush_after_write"`
	AutomaticRecovery        bool   `yaml:"automatic_recovery"`
	WriteEncryptedValues     bool   `yaml:"write_encrypted_values"`
	MinAvailableDiskSpaceMB  int    `yaml:"min_available_disk_space_threshold_mb"`
}

// QoSConfig controls the default subscription queue sizing.
type QoSConfig struct {
	DefaultQueueLength int `yaml:"default_queue_length"`
}

// SerializerConfig controls the periodic node-tree snapshot, spec.md §4.7.
type SerializerConfig struct {
	Path            string `yaml:"path"`
	FrequencyMS     int    `yaml:"frequency_ms"`
	SerializeValues bool   `yaml:"serialize_values"`
}

// Configured reports whether ssl verification has enough information to
// actually verify a peer certificate.
func (s SSLConfig) Configured() bool {
	return s.CAFile != "" || s.CertsPath != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, every field is usable
// without further nil/zero checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills in zero-value fields with the defaults named in
// spec.md §6. Called automatically by Load and Default.
func (c *Config) applyDefaults() {
	if c.Broker == "" {
		c.Broker = "http://127.0.0.1:8080/conn"
	}
	if c.KeyFile == "" {
		c.KeyFile = ".key"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RedoLog.Path == "" {
		c.RedoLog.Path = ".redo"
	}
	if c.RedoLog.MaxEntriesPerFile == 0 {
		c.RedoLog.MaxEntriesPerFile = 1024
	}
	if c.RedoLog.MinAvailableDiskSpaceMB == 0 {
		c.RedoLog.MinAvailableDiskSpaceMB = 50
	}
	// FlushAfterWrite / AutomaticRecovery / WriteEncryptedValues are not
	// defaulted here: Load has already unmarshaled the document, so a
	// present "false" and an absent key are indistinguishable, and all
	// three stay false unless the document sets them to true (Default
	// leaves them false) — tracked as an Open Question in DESIGN.md.
	if c.QoS.DefaultQueueLength <= 0 {
		c.QoS.DefaultQueueLength = 1024
	}
	if c.MaxSendQueueLen <= 0 {
		c.MaxSendQueueLen = 8
	}
	if c.Serializer.FrequencyMS == 0 {
		c.Serializer.FrequencyMS = 1000
	}
	if c.Serializer.Path == "" {
		c.Serializer.Path = "nodes.json"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers %d must be positive", c.Workers)
	}
	if c.QoS.DefaultQueueLength < 1 {
		return fmt.Errorf("qos.default_queue_length %d must be at least 1", c.QoS.DefaultQueueLength)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a minimally-viable local-development configuration
// with all defaults applied. name is required since the broker
// handshake needs it to form a dsId.
func Default(name string) *Config {
	cfg := &Config{Name: name}
	cfg.applyDefaults()
	return cfg
}

// FlagSet builds a flag.FlagSet mirroring Config's keys as
// "--key=value" overrides, plus --help. Values present on the command
// line take precedence over the loaded file; call Overrides.Apply
// after fs.Parse to merge them back into a Config.
func FlagSet(name string) (*flag.FlagSet, *Overrides) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	ov := &Overrides{}

	fs.StringVar(&ov.Broker, "broker", "", "broker URL")
	fs.StringVar(&ov.Name, "name", "", "link name")
	fs.StringVar(&ov.Token, "token", "", "permission token")
	fs.StringVar(&ov.LogLevel, "log-level", "", "log level (none, fatal, error, warning, info, debug, trace)")
	fs.StringVar(&ov.KeyFile, "key-file", "", "path to the link's identity key")
	fs.IntVar(&ov.Workers, "workers", 0, "worker pool size")
	return fs, ov
}

// Overrides holds CLI-supplied values that take precedence over a
// loaded config file. Zero values mean "not set on the command line".
type Overrides struct {
	Broker   string
	Name     string
	Token    string
	LogLevel string
	KeyFile  string
	Workers  int
}

// Apply merges non-zero override fields into cfg, then re-validates.
func (o *Overrides) Apply(cfg *Config) error {
	if o.Broker != "" {
		cfg.Broker = o.Broker
	}
	if o.Name != "" {
		cfg.Name = o.Name
	}
	if o.Token != "" {
		cfg.Token = o.Token
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.KeyFile != "" {
		cfg.KeyFile = o.KeyFile
	}
	if o.Workers != 0 {
		cfg.Workers = o.Workers
	}
	return cfg.Validate()
}

// ParseArgs parses the DSA CLI surface (--key=value flags mirroring
// Config's keys; --help prints the surface) and returns the resulting
// Overrides. args is typically os.Args[1:].
func ParseArgs(name string, args []string) (*Overrides, error) {
	fs, ov := FlagSet(name)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage of %s:\n", name)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return ov, nil
}

