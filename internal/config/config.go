package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every configuration problem detected by Load.
var ErrInvalidConfig = errors.New("invalid configuration")

// Missing-reference policies.
const (
	MissingReferencePassthrough = "passthrough"
	MissingReferenceFail        = "fail"
)

// Secret store kinds.
const (
	SecretStoreSSM = "ssm"
	SecretStoreEnv = "env"
)

// Output kinds.
const (
	OutputStdout  = "stdout"
	OutputFile    = "file"
	OutputWebhook = "webhook"
)

// Config holds all asa-audit configuration. It is built once per invocation
// and passed by value; nothing reads the environment after Load.
type Config struct {
	API     APIConfig
	Secrets SecretsConfig
	Collect CollectConfig
	Output  OutputConfig
	Log     LogConfig
	Metrics MetricsConfig
	Tracing TracingConfig
}

// APIConfig holds ASA API settings.
type APIConfig struct {
	Team       string
	BaseURL    string
	MaxRetries int
	Timeout    time.Duration
}

// SecretsConfig names the secret store and the parameters holding the credentials.
type SecretsConfig struct {
	Store         string // "ssm" or "env"
	APIKeyPath    string
	APISecretPath string
}

// CollectConfig holds traversal settings.
type CollectConfig struct {
	WindowMinutes    int
	Environment      string
	MaxPages         int    // 0 disables the cap
	MissingReference string // "passthrough" or "fail"
}

// OutputConfig holds record sink settings.
type OutputConfig struct {
	Kinds             []string
	FilePath          string
	FileMaxSizeMB     int
	FileMaxBackups    int
	FileMaxAgeDays    int
	FileCompress      bool
	WebhookURL        string
	WebhookToken      string
	WebhookHeaders    map[string]string
	WebhookBatchSize  int
	WebhookFlushEvery time.Duration
}

// LogConfig holds diagnostic logger settings.
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

// MetricsConfig holds Prometheus push settings.
type MetricsConfig struct {
	PushgatewayURL string
	Job            string
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	ServiceName string
}

// bindings maps viper keys to the environment variables that feed them.
var bindings = map[string]string{
	"team":                    "ASA_TEAM",
	"base_url":                "ASA_BASE_URL",
	"max_retries":             "ASA_MAX_RETRIES",
	"http_timeout":            "ASA_HTTP_TIMEOUT",
	"secret_store":            "ASA_SECRET_STORE",
	"api_key_path":            "ASA_API_KEY_PATH",
	"api_secret_path":         "ASA_API_SECRET_PATH",
	"window":                  "TIME_INTERVAL",
	"environment":             "ENVIRONMENT",
	"max_pages":               "ASA_MAX_PAGES",
	"missing_reference":       "ASA_MISSING_REFERENCE",
	"output":                  "ASA_OUTPUT",
	"output_file":             "ASA_OUTPUT_FILE",
	"output_file_max_size_mb": "ASA_OUTPUT_FILE_MAX_SIZE_MB",
	"output_file_max_backups": "ASA_OUTPUT_FILE_MAX_BACKUPS",
	"output_file_max_age":     "ASA_OUTPUT_FILE_MAX_AGE_DAYS",
	"output_file_compress":    "ASA_OUTPUT_FILE_COMPRESS",
	"webhook_url":             "ASA_WEBHOOK_URL",
	"webhook_token":           "ASA_WEBHOOK_TOKEN",
	"webhook_headers":         "ASA_WEBHOOK_HEADERS",
	"webhook_batch_size":      "ASA_WEBHOOK_BATCH_SIZE",
	"webhook_flush_interval":  "ASA_WEBHOOK_FLUSH_INTERVAL",
	"log_level":               "ASA_LOG_LEVEL",
	"log_format":              "ASA_LOG_FORMAT",
	"pushgateway_url":         "ASA_PUSHGATEWAY_URL",
	"metrics_job":             "ASA_METRICS_JOB",
	"tracing_enabled":         "ASA_TRACING_ENABLED",
	"tracing_endpoint":        "ASA_TRACING_ENDPOINT",
	"tracing_insecure":        "ASA_TRACING_INSECURE",
}

// Bind registers environment bindings and defaults on v. cmd binds its flags
// onto the same keys, so flags override the environment.
func Bind(v *viper.Viper) {
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
	v.SetDefault("base_url", "https://app.scaleft.com/v1/")
	v.SetDefault("max_retries", 3)
	v.SetDefault("http_timeout", "30s")
	v.SetDefault("secret_store", SecretStoreSSM)
	v.SetDefault("max_pages", 500)
	v.SetDefault("missing_reference", MissingReferencePassthrough)
	v.SetDefault("output", OutputStdout)
	v.SetDefault("output_file", "asa-audit.log")
	v.SetDefault("output_file_max_size_mb", 100)
	v.SetDefault("output_file_max_backups", 5)
	v.SetDefault("output_file_max_age", 30)
	v.SetDefault("output_file_compress", false)
	v.SetDefault("webhook_batch_size", 50)
	v.SetDefault("webhook_flush_interval", "5s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_job", "asa_audit")
	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_endpoint", "localhost:4318")
	v.SetDefault("tracing_insecure", true)
}

// Load reads configuration from v. Call Bind on v first.
func Load(v *viper.Viper) (Config, error) {
	window, err := requiredInt(v, "window")
	if err != nil {
		return Config{}, err
	}
	maxRetries, err := optionalInt(v, "max_retries")
	if err != nil {
		return Config{}, err
	}
	maxPages, err := optionalInt(v, "max_pages")
	if err != nil {
		return Config{}, err
	}
	timeout, err := duration(v, "http_timeout")
	if err != nil {
		return Config{}, err
	}
	flushEvery, err := duration(v, "webhook_flush_interval")
	if err != nil {
		return Config{}, err
	}
	webhookHeaders, err := headerList(v, "webhook_headers")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		API: APIConfig{
			Team:       strings.TrimSpace(v.GetString("team")),
			BaseURL:    v.GetString("base_url"),
			MaxRetries: maxRetries,
			Timeout:    timeout,
		},
		Secrets: SecretsConfig{
			Store:         strings.ToLower(v.GetString("secret_store")),
			APIKeyPath:    v.GetString("api_key_path"),
			APISecretPath: v.GetString("api_secret_path"),
		},
		Collect: CollectConfig{
			WindowMinutes:    window,
			Environment:      v.GetString("environment"),
			MaxPages:         maxPages,
			MissingReference: strings.ToLower(v.GetString("missing_reference")),
		},
		Output: OutputConfig{
			Kinds:             splitList(v.GetString("output")),
			FilePath:          v.GetString("output_file"),
			FileMaxSizeMB:     v.GetInt("output_file_max_size_mb"),
			FileMaxBackups:    v.GetInt("output_file_max_backups"),
			FileMaxAgeDays:    v.GetInt("output_file_max_age"),
			FileCompress:      v.GetBool("output_file_compress"),
			WebhookURL:        v.GetString("webhook_url"),
			WebhookToken:      v.GetString("webhook_token"),
			WebhookHeaders:    webhookHeaders,
			WebhookBatchSize:  v.GetInt("webhook_batch_size"),
			WebhookFlushEvery: flushEvery,
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: v.GetString("pushgateway_url"),
			Job:            v.GetString("metrics_job"),
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("tracing_enabled"),
			Endpoint:    v.GetString("tracing_endpoint"),
			Insecure:    v.GetBool("tracing_insecure"),
			ServiceName: "asa-audit",
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required values and enumerations.
func (c Config) Validate() error {
	if c.API.Team == "" {
		return invalid("ASA_TEAM must be set")
	}
	if strings.ContainsAny(c.API.Team, "/?#") {
		return invalid("ASA_TEAM %q contains URL delimiters", c.API.Team)
	}
	base, err := url.Parse(c.API.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return invalid("ASA_BASE_URL %q is not an absolute URL", c.API.BaseURL)
	}
	if c.API.MaxRetries < 0 {
		return invalid("ASA_MAX_RETRIES must not be negative")
	}
	if c.API.Timeout <= 0 {
		return invalid("ASA_HTTP_TIMEOUT must be positive")
	}

	switch c.Secrets.Store {
	case SecretStoreSSM, SecretStoreEnv:
	default:
		return invalid("ASA_SECRET_STORE %q (must be ssm or env)", c.Secrets.Store)
	}
	if c.Secrets.APIKeyPath == "" || c.Secrets.APISecretPath == "" {
		return invalid("ASA_API_KEY_PATH and ASA_API_SECRET_PATH must be set")
	}

	if c.Collect.WindowMinutes <= 0 {
		return invalid("TIME_INTERVAL must be a positive number of minutes, got %d", c.Collect.WindowMinutes)
	}
	if c.Collect.MaxPages < 0 {
		return invalid("ASA_MAX_PAGES must not be negative")
	}
	switch c.Collect.MissingReference {
	case MissingReferencePassthrough, MissingReferenceFail:
	default:
		return invalid("ASA_MISSING_REFERENCE %q (must be passthrough or fail)", c.Collect.MissingReference)
	}

	if len(c.Output.Kinds) == 0 {
		return invalid("ASA_OUTPUT must name at least one output")
	}
	for _, kind := range c.Output.Kinds {
		switch kind {
		case OutputStdout:
		case OutputFile:
			if c.Output.FilePath == "" {
				return invalid("ASA_OUTPUT_FILE must be set for the file output")
			}
		case OutputWebhook:
			if c.Output.WebhookURL == "" {
				return invalid("ASA_WEBHOOK_URL must be set for the webhook output")
			}
			if c.Output.WebhookBatchSize <= 0 {
				return invalid("ASA_WEBHOOK_BATCH_SIZE must be positive")
			}
		default:
			return invalid("unknown output %q (must be stdout, file or webhook)", kind)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("ASA_LOG_LEVEL %q (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return invalid("ASA_LOG_FORMAT %q (must be json or console)", c.Log.Format)
	}
	return nil
}

// Window returns the collection window as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.Collect.WindowMinutes) * time.Minute
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func requiredInt(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, invalid("%s must be set", bindings[key])
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid("%s %q is not an integer", bindings[key], raw)
	}
	return n, nil
}

func optionalInt(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalid("%s %q is not an integer", bindings[key], raw)
	}
	return n, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, invalid("%s %q is not a duration", bindings[key], raw)
	}
	return d, nil
}

// headerList parses "Name=value,Name2=value2".
func headerList(v *viper.Viper, key string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(v.GetString(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, invalid("%s entry %q is not Name=value", bindings[key], part)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
