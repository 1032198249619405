// Package config loads docsync configuration from YAML, validated against an
// embedded CUE schema.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full replica configuration.
type Config struct {
	DocumentID string           `yaml:"document_id"`
	Replica    ReplicaConfig    `yaml:"replica"`
	HTTP       HTTPConfig       `yaml:"http"`
	Storage    StorageConfig    `yaml:"storage"`
	Peer       PeerConfig       `yaml:"peer"`
	Sync       SyncConfig       `yaml:"sync"`
	Compaction CompactionConfig `yaml:"compaction"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ReplicaConfig struct {
	// ClientID attributes local edits. 0 means random per process.
	ClientID uint64 `yaml:"client_id"`
}

type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	// CompactWait bounds how long a peer-triggered compaction waits for the
	// document lock before it is deferred.
	CompactWait Duration `yaml:"compact_wait"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type PeerConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

type SyncConfig struct {
	// Interval between background rounds. 0 disables the loop.
	Interval     Duration `yaml:"interval"`
	CompactPeer  string   `yaml:"compact_peer"`
	RoundTimeout Duration `yaml:"round_timeout"`
}

type CompactionConfig struct {
	// Interval between background compactions. 0 disables the loop.
	Interval Duration `yaml:"interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a single-replica development config.
func Default() Config {
	return Config{
		DocumentID: "doc",
		HTTP: HTTPConfig{
			Addr:              ":8000",
			ReadHeaderTimeout: Duration(10 * time.Second),
			CompactWait:       Duration(2 * time.Second),
		},
		Storage: StorageConfig{Path: "docsync.db"},
		Peer:    PeerConfig{Timeout: Duration(10 * time.Second)},
		Sync: SyncConfig{
			CompactPeer:  "on_push",
			RoundTimeout: Duration(time.Minute),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. A missing file yields Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the schema and decodes it over the defaults.
// filename is used in error positions.
func Parse(filename string, data []byte) (Config, error) {
	if err := Validate(filename, data); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", filename, err)
	}
	return cfg, nil
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
