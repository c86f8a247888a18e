// Package config loads revcompare configuration.
//
// Resolution order (highest to lowest precedence):
//  1. Environment variables (optionally seeded from a .env file)
//  2. The YAML file passed with --config (default ./revcompare.yaml)
//  3. Built-in defaults embedded in the binary
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/hooks"
)

//go:embed default.yaml
var defaultYAML []byte

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "revcompare.yaml"

// Config holds all revcompare configuration.
type Config struct {
	Core      CoreConfig         `yaml:"core"`
	Bindings  []BindingConfig    `yaml:"bindings"`
	Toolchain ToolchainConfig    `yaml:"toolchain"`
	BuildTest BuildTestConfig    `yaml:"build_test"`
	Bench     BenchConfig        `yaml:"bench"`
	Workspace WorkspaceConfig    `yaml:"workspace"`
	Host      HostConfig         `yaml:"host"`
	Gate      GateConfig         `yaml:"gate"`
	Report    ReportConfig       `yaml:"report"`
	GitHub    GitHubConfig       `yaml:"github"`
	Hooks     []hooks.HookConfig `yaml:"hooks"`
	Telemetry TelemetryConfig    `yaml:"telemetry"`
	Log       LogConfig          `yaml:"log"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
	Server    ServerConfig       `yaml:"server"`
}

// CoreConfig describes the core library repository.
type CoreConfig struct {
	Repo           string `yaml:"repo"`
	BaselineBranch string `yaml:"baseline_branch"`
}

// BindingConfig describes one downstream binding.
type BindingConfig struct {
	Name            string `yaml:"name"`
	DirectivePrefix string `yaml:"directive_prefix"`
	Repo            string `yaml:"repo"`
	Manifest        string `yaml:"manifest"`       // relative to the binding root
	Dependency      string `yaml:"dependency"`     // dependency key of the core library
	CoreCrateDir    string `yaml:"core_crate_dir"` // crate dir inside the core checkout, empty for the root
	SetupScript     string `yaml:"setup_script"`
	TestScript      string `yaml:"test_script"`
	CompareScript   string `yaml:"compare_script"` // relative to the toolkit dir
	Submodules      bool   `yaml:"submodules"`
}

// ToolchainConfig pins the toolchain handed to every script.
type ToolchainConfig struct {
	Pin    string `yaml:"pin"`
	EnvVar string `yaml:"env_var"`
}

// BuildTestConfig configures the build-and-test executor.
type BuildTestConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Runner  string        `yaml:"runner"` // local or docker
	Image   string        `yaml:"image"`
	Network string        `yaml:"network"`
	CPU     string        `yaml:"cpu"`
	Mem     string        `yaml:"mem"`
}

// AssetConfig is one workload archive staged before a comparison.
type AssetConfig struct {
	Source string `yaml:"source"` // local path or s3://bucket/key
	Dest   string `yaml:"dest"`   // relative to the toolkit dir
}

// BenchConfig configures the benchmark and compare executor.
type BenchConfig struct {
	ToolkitDir string        `yaml:"toolkit_dir"`
	LogDir     string        `yaml:"log_dir"` // relative to the toolkit dir
	Timeout    time.Duration `yaml:"timeout"`
	Assets     []AssetConfig `yaml:"assets"`
}

// WorkspaceConfig locates per-run working directories.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// HostConfig configures exclusive host ownership for benchmark runs.
type HostConfig struct {
	LockPath     string        `yaml:"lock_path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// GateConfig lists what lets a pull request through.
type GateConfig struct {
	Labels       []string `yaml:"labels"`
	Events       []string `yaml:"events"`
	TargetBranch string   `yaml:"target_branch"`
}

// StoreConfig selects the artifact store.
type StoreConfig struct {
	Kind         string `yaml:"kind"` // fs or s3
	Dir          string `yaml:"dir"`
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Prefix       string `yaml:"prefix"`
	UseSSL       bool   `yaml:"use_ssl"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

// AccessKey returns the S3 access key from the environment
func (s StoreConfig) AccessKey() string { return os.Getenv(s.AccessKeyEnv) }

// SecretKey returns the S3 secret key from the environment
func (s StoreConfig) SecretKey() string { return os.Getenv(s.SecretKeyEnv) }

// ReportConfig configures the reporter.
type ReportConfig struct {
	MaxCommentBytes int         `yaml:"max_comment_bytes"`
	Store           StoreConfig `yaml:"store"`
}

// GitHubConfig configures the comment sink and webhook trigger.
type GitHubConfig struct {
	APIURL           string `yaml:"api_url"`
	TokenEnv         string `yaml:"token_env"`
	WebhookSecretEnv string `yaml:"webhook_secret_env"`
}

// Token returns the API token from the environment
func (g GitHubConfig) Token() string { return os.Getenv(g.TokenEnv) }

// WebhookSecret returns the webhook secret from the environment
func (g GitHubConfig) WebhookSecret() string { return os.Getenv(g.WebhookSecretEnv) }

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"` // empty disables export
	SampleRate  float64 `yaml:"sample_rate"`
	ServiceName string  `yaml:"service_name"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchedulerConfig bounds the serve-mode scheduler.
type SchedulerConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	QueueSize     int `yaml:"queue_size"`
}

// ServerConfig configures the webhook and health server.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Flows           []string      `yaml:"flows"` // flows submitted per approved pull request
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parse built-in config: %w", err)
	}
	return &cfg, nil
}

// Load layers the file at path (if it exists) and the environment over the
// built-in defaults and validates the result. A missing file is only an
// error when explicit is true.
func Load(path string, explicit bool) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to load .env", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("failed to parse %s", path), err)
			}
		case os.IsNotExist(err) && !explicit:
		case os.IsNotExist(err):
			return nil, errors.New(errors.ErrCodeConfigNotFound, fmt.Sprintf("config file not found: %s", path))
		default:
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("failed to read %s", path), err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Toolchain.Pin = envStr("REVCOMPARE_TOOLCHAIN", c.Toolchain.Pin)
	c.Workspace.Root = envStr("REVCOMPARE_WORKSPACE_ROOT", c.Workspace.Root)
	c.Bench.ToolkitDir = envStr("REVCOMPARE_TOOLKIT_DIR", c.Bench.ToolkitDir)
	c.Host.LockPath = envStr("REVCOMPARE_HOST_LOCK", c.Host.LockPath)
	c.Log.Level = envStr("REVCOMPARE_LOG_LEVEL", c.Log.Level)
	c.Telemetry.Endpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
}

// Validate checks the configuration for missing or inconsistent fields.
func (c *Config) Validate() error {
	var problems []string

	if c.Core.Repo == "" {
		problems = append(problems, "core.repo is required")
	}
	if c.Core.BaselineBranch == "" {
		problems = append(problems, "core.baseline_branch is required")
	}
	if len(c.Bindings) == 0 {
		problems = append(problems, "at least one binding is required")
	}

	seen := make(map[string]bool)
	prefixes := make(map[string]bool)
	for i, b := range c.Bindings {
		where := fmt.Sprintf("bindings[%d]", i)
		if b.Name == "" {
			problems = append(problems, where+".name is required")
		} else if seen[b.Name] {
			problems = append(problems, fmt.Sprintf("duplicate binding %q", b.Name))
		}
		seen[b.Name] = true

		if b.DirectivePrefix == "" || strings.ToUpper(b.DirectivePrefix) != b.DirectivePrefix {
			problems = append(problems, where+".directive_prefix must be non-empty upper case")
		} else if prefixes[b.DirectivePrefix] {
			problems = append(problems, fmt.Sprintf("duplicate directive prefix %q", b.DirectivePrefix))
		}
		prefixes[b.DirectivePrefix] = true

		for field, v := range map[string]string{
			"repo": b.Repo, "manifest": b.Manifest, "dependency": b.Dependency,
			"setup_script": b.SetupScript, "test_script": b.TestScript,
		} {
			if v == "" {
				problems = append(problems, fmt.Sprintf("%s.%s is required", where, field))
			}
		}
	}

	if c.Toolchain.Pin == "" {
		problems = append(problems, "toolchain.pin is required")
	}
	if c.BuildTest.Timeout <= 0 {
		problems = append(problems, "build_test.timeout must be positive")
	}
	switch c.BuildTest.Runner {
	case "local":
	case "docker":
		if c.BuildTest.Image == "" {
			problems = append(problems, "build_test.image is required for the docker runner")
		}
	default:
		problems = append(problems, fmt.Sprintf("build_test.runner must be local or docker, got %q", c.BuildTest.Runner))
	}
	if c.Bench.ToolkitDir == "" {
		problems = append(problems, "bench.toolkit_dir is required")
	}
	if c.Bench.LogDir == "" || filepath.Clean(c.Bench.LogDir) == "." {
		problems = append(problems, "bench.log_dir must name a directory inside the toolkit")
	}
	if c.Workspace.Root == "" {
		problems = append(problems, "workspace.root is required")
	}
	if len(c.Gate.Labels) == 0 {
		problems = append(problems, "gate.labels must list at least one label")
	}
	switch c.Report.Store.Kind {
	case "fs":
		if c.Report.Store.Dir == "" {
			problems = append(problems, "report.store.dir is required for the fs store")
		}
	case "s3":
		if c.Report.Store.Endpoint == "" || c.Report.Store.Bucket == "" {
			problems = append(problems, "report.store.endpoint and bucket are required for the s3 store")
		}
	default:
		problems = append(problems, fmt.Sprintf("report.store.kind must be fs or s3, got %q", c.Report.Store.Kind))
	}
	for _, f := range c.Server.Flows {
		if f != "check" && f != "bench" {
			problems = append(problems, fmt.Sprintf("server.flows entries must be check or bench, got %q", f))
		}
	}
	for i, h := range c.Hooks {
		if h.FailureMode != "" && !hooks.IsValidFailureMode(h.FailureMode) {
			problems = append(problems, fmt.Sprintf("hooks[%d].failureMode %q is invalid", i, h.FailureMode))
		}
	}

	if len(problems) > 0 {
		return errors.NewConfigInvalidError(strings.Join(problems, "; "))
	}
	return nil
}

// Binding returns the named binding.
func (c *Config) Binding(name string) (BindingConfig, error) {
	for _, b := range c.Bindings {
		if b.Name == name {
			return b, nil
		}
	}
	names := make([]string, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		names = append(names, b.Name)
	}
	return BindingConfig{}, errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("unknown binding %q", name)).
		WithSuggestion(fmt.Sprintf("Configured bindings: %s", strings.Join(names, ", ")))
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
