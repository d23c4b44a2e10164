// Package config loads the TOML configuration file and the optional
// personal-context hints file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// IMAP holds mail server connection settings.
type IMAP struct {
	Server      string `toml:"server"`
	Port        int    `toml:"port"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	UseSSL      bool   `toml:"use_ssl"`
	UseStartTLS bool   `toml:"use_starttls"`
}

// Addr returns the host:port dial address.
func (i IMAP) Addr() string {
	return fmt.Sprintf("%s:%d", i.Server, i.Port)
}

// LLM holds remote classifier settings.
type LLM struct {
	APIURL       string `toml:"api_url"`
	Model        string `toml:"model"`
	SystemPrompt string `toml:"system_prompt"`
}

// Context points at the personal-context hints file.
type Context struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"`
}

// Advanced tunes message retrieval.
type Advanced struct {
	// SearchMethod is ALL, UNSEEN or SINCE_DAYS.
	SearchMethod      string `toml:"search_method"`
	DaysToSearch      int    `toml:"days_to_search"`
	ProcessAllFolders bool   `toml:"process_all_folders"`
	// FoldersToProcess is a comma separated folder list.
	FoldersToProcess string `toml:"folders_to_process"`
}

// State locates the persisted ledger and rule files.
type State struct {
	Dir string `toml:"dir"`
}

// Config is the full configuration file.
type Config struct {
	IMAP     IMAP              `toml:"imap"`
	LLM      LLM               `toml:"llm"`
	Folders  map[string]string `toml:"folders"`
	Context  Context           `toml:"context"`
	Advanced Advanced          `toml:"advanced"`
	State    State             `toml:"state"`
}

// DefaultFolder receives messages whose category has no mapping, including
// the Uncategorized and Error sentinels.
const DefaultFolder = "INBOX"

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mailsift", "config.toml")
}

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		IMAP: IMAP{
			Server:      "localhost",
			Port:        143,
			Username:    "your_username",
			Password:    "your_password",
			UseStartTLS: true,
		},
		LLM: LLM{
			APIURL: "http://localhost:1234/v1/chat/completions",
			Model:  "local-model",
		},
		Folders: map[string]string{
			"Work":       "Folders/Work",
			"Personal":   "Folders/Personal",
			"Finance":    "Folders/Finance",
			"Shopping":   "Folders/Shopping",
			"Newsletter": "Folders/Newsletter",
			"Spam":       "Folders/Junk",
			"Family":     "Folders/Family",
			"School":     "Folders/School",
		},
		Context: Context{Enabled: true},
		Advanced: Advanced{
			SearchMethod:     "ALL",
			DaysToSearch:     30,
			FoldersToProcess: "INBOX",
		},
	}
}

// Load reads the config at path, materializing the default file when none
// exists so the user has something to edit.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if writeErr := write(path, cfg); writeErr != nil {
			return cfg, fmt.Errorf("write default config: %w", writeErr)
		}
		if writeErr := writeExampleContext(path, cfg); writeErr != nil {
			return cfg, fmt.Errorf("write example context: %w", writeErr)
		}
		return cfg, nil
	}
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return toml.NewEncoder(f).Encode(cfg)
}

// writeExampleContext seeds the personal-context hints file next to a freshly
// materialized config so users see the expected format. An existing file is
// left alone.
func writeExampleContext(cfgPath string, cfg Config) error {
	path := cfg.Context.File
	if path == "" {
		path = filepath.Join(filepath.Dir(cfgPath), "context.txt")
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	example := "# One hint per line. Lines starting with # are ignored.\n" +
		"# Emails from acme.com are from my employer\n" +
		"# jane@example.com is my sister\n"
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(example), 0o600)
}

// StateDir resolves the directory holding history and rule files.
func (c Config) StateDir() string {
	if c.State.Dir != "" {
		return c.State.Dir
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mailsift")
}

// RulesPath returns the rule file location inside the state directory.
func (c Config) RulesPath() string {
	return filepath.Join(c.StateDir(), "rules.toml")
}

// FolderList returns the folders configured for processing.
func (c Config) FolderList() []string {
	raw := c.Advanced.FoldersToProcess
	if strings.TrimSpace(raw) == "" {
		return []string{"INBOX"}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadPersonalContext reads the hints file, dropping blank lines and
// #-comments. A disabled or missing file yields no hints, not an error.
func (c Config) LoadPersonalContext() ([]string, error) {
	if !c.Context.Enabled {
		return nil, nil
	}
	path := c.Context.File
	if path == "" {
		path = filepath.Join(c.StateDir(), "context.txt")
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open personal context: %w", err)
	}
	defer func() { _ = f.Close() }()

	var hints []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hints = append(hints, line)
	}
	if err := scanner.Err(); err != nil {
		return hints, fmt.Errorf("read personal context: %w", err)
	}
	return hints, nil
}
