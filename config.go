package anonchat

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/X-Irrelevant-X/AnonChat/audit"
	"github.com/X-Irrelevant-X/AnonChat/docstore"
)

// FileConfig is the on-disk YAML configuration for the encryption core:
// core options plus the store and audit backends. Nothing in it is secret;
// passwords are supplied per call and never configured.
//
// Example:
//
//	session_timeout: 30m
//	kdf: argon2id
//	store:
//	  type: filesystem
//	  config:
//	    path: /var/lib/anonchat
//	audit:
//	  enabled: true
//	  type: file
//	  options:
//	    file_path: /var/log/anonchat/audit.log
type FileConfig struct {
	SessionTimeout time.Duration   `yaml:"session_timeout"`
	KDF            string          `yaml:"kdf"`
	Store          docstore.Config `yaml:"store"`
	Audit          *audit.Config   `yaml:"audit"`
}

// LoadConfig reads a YAML configuration file and returns validated core
// options and the store configuration. Absent fields fall back to the
// defaults from DefaultOptions.
func LoadConfig(path string) (Options, docstore.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, docstore.Config{}, fmt.Errorf("read config: %w", err)
	}

	var fileConfig FileConfig
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return Options{}, docstore.Config{}, fmt.Errorf("parse config: %w", err)
	}

	options := DefaultOptions()
	if fileConfig.SessionTimeout > 0 {
		options.SessionTimeout = fileConfig.SessionTimeout
	}
	if fileConfig.KDF != "" {
		options.KDF = fileConfig.KDF
	}
	options.Audit = fileConfig.Audit

	if err := validateOptions(options); err != nil {
		return Options{}, docstore.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return options, fileConfig.Store, nil
}
