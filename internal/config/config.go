package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "120s" or "3m" decode
// directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Poll     PollConfig     `yaml:"poll"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	Mail     MailConfig     `yaml:"mail"`
	SFTP     SFTPConfig     `yaml:"sftp"`
}

type ProviderConfig struct {
	BaseURL   string `yaml:"base_url"`
	TermID    string `yaml:"term_id"`
	SubjectID string `yaml:"subject_id"`
	UserAgent string `yaml:"user_agent"`
}

type PollConfig struct {
	Interval   Duration `yaml:"interval"`
	PaceBase   Duration `yaml:"pace_base"`
	PaceJitter Duration `yaml:"pace_jitter"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Enabled reports whether enough of the SMTP settings are present to send
// mail.
func (m MailConfig) Enabled() bool {
	return m.Host != "" && m.From != "" && m.To != ""
}

type SFTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Pass      string `yaml:"pass"`
	RemoteDir string `yaml:"remote_dir"`
}

func defaults() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:   "https://public.enroll.wisc.edu/api/search/v1",
			TermID:    "1262",
			SubjectID: "266",
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		},
		Poll: PollConfig{
			Interval:   Duration(3 * time.Minute),
			PaceBase:   Duration(120 * time.Second),
			PaceJitter: Duration(10 * time.Second),
		},
		Store:  StoreConfig{Path: "coursewatch.db"},
		Server: ServerConfig{Addr: ":8080"},
		Mail:   MailConfig{Port: 587},
		SFTP:   SFTPConfig{Port: 22, RemoteDir: "/"},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that order. A missing file at the default path
// is not an error; a path given explicitly must exist.
func Load(path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = "coursewatch.yaml"
	}

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults + env only
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Provider.BaseURL = getenv("COURSEWATCH_BASE_URL", cfg.Provider.BaseURL)
	cfg.Provider.TermID = getenv("COURSEWATCH_TERM_ID", cfg.Provider.TermID)
	cfg.Provider.SubjectID = getenv("COURSEWATCH_SUBJECT_ID", cfg.Provider.SubjectID)
	cfg.Provider.UserAgent = getenv("COURSEWATCH_USER_AGENT", cfg.Provider.UserAgent)

	cfg.Poll.Interval = getenvDuration("COURSEWATCH_POLL_INTERVAL", cfg.Poll.Interval)
	cfg.Poll.PaceBase = getenvDuration("COURSEWATCH_PACE_BASE", cfg.Poll.PaceBase)
	cfg.Poll.PaceJitter = getenvDuration("COURSEWATCH_PACE_JITTER", cfg.Poll.PaceJitter)

	cfg.Store.Path = getenv("COURSEWATCH_DB_PATH", cfg.Store.Path)
	cfg.Server.Addr = getenv("COURSEWATCH_LISTEN_ADDR", cfg.Server.Addr)

	cfg.Mail.Host = getenv("COURSEWATCH_SMTP_HOST", cfg.Mail.Host)
	cfg.Mail.Port = getenvInt("COURSEWATCH_SMTP_PORT", cfg.Mail.Port)
	cfg.Mail.Username = getenv("COURSEWATCH_SMTP_USER", cfg.Mail.Username)
	cfg.Mail.Password = getenv("COURSEWATCH_SMTP_PASS", cfg.Mail.Password)
	cfg.Mail.From = getenv("COURSEWATCH_MAIL_FROM", cfg.Mail.From)
	cfg.Mail.To = getenv("COURSEWATCH_MAIL_TO", cfg.Mail.To)

	cfg.SFTP.Host = getenv("COURSEWATCH_SFTP_HOST", cfg.SFTP.Host)
	cfg.SFTP.Port = getenvInt("COURSEWATCH_SFTP_PORT", cfg.SFTP.Port)
	cfg.SFTP.User = getenv("COURSEWATCH_SFTP_USER", cfg.SFTP.User)
	cfg.SFTP.Pass = getenv("COURSEWATCH_SFTP_PASS", cfg.SFTP.Pass)
	cfg.SFTP.RemoteDir = getenv("COURSEWATCH_SFTP_REMOTE_DIR", cfg.SFTP.RemoteDir)
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDuration(k string, def Duration) Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return Duration(d)
}
