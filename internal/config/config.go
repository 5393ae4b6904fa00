package config

import (
	"errors"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const DefaultMaxReauthTries = 5

type Options struct {
	BaseURL         string `long:"base-url" env:"MEMBERSONLY_BASE_URL" description:"Forum base URL (e.g. https://forum.example.com)"`
	CredentialsFile string `long:"credentials-file" env:"MEMBERSONLY_CREDENTIALS_FILE" description:"JSON file holding the access and refresh tokens"`
	AccessToken     string `long:"access-token" env:"MEMBERSONLY_ACCESS_TOKEN" description:"Access token (overrides the credentials file)"`
	RefreshToken    string `long:"refresh-token" env:"MEMBERSONLY_REFRESH_TOKEN" description:"Refresh token (overrides the credentials file)"`
	MaxReauthTries  int    `long:"max-reauth-tries" env:"MEMBERSONLY_MAX_REAUTH_TRIES" default:"5" description:"Token refreshes attempted on stream errors before giving up"`
	SentryDSN       string `long:"sentry-dsn" env:"SENTRY_DSN" description:"Sentry DSN for error tracking (empty disables)"`
	MetricsAddr     string `long:"metrics-addr" env:"MEMBERSONLY_METRICS_ADDR" description:"Listen address for Prometheus metrics (empty disables)"`
	ForceHTTP1      bool   `long:"force-http1" env:"MEMBERSONLY_FORCE_HTTP1" description:"Open the event stream over HTTP/1.1 only"`
	LogToFile       bool   `long:"log-to-file" env:"MEMBERSONLY_LOG_TO_FILE" description:"Persist logs as JSON lines"`
	LogDir          string `long:"log-dir" env:"MEMBERSONLY_LOG_DIR" description:"Directory for persisted logs (default: user cache directory)"`
	Debug           bool   `long:"debug" env:"MEMBERSONLY_DEBUG" description:"Enable verbose debug output"`
}

type APIEndpoints struct {
	BaseURL    string
	EventsURL  string
	RefreshURL string
}

const (
	eventsPath  = "/events"
	refreshPath = "/auth/refresh"
)

func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}
	if strings.TrimSpace(opts.CredentialsFile) == "" {
		if path, err := DefaultCredentialsPath(); err == nil {
			opts.CredentialsFile = path
		}
	}
	return opts, nil
}

func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.BaseURL, validation.Required.Error("base URL is required"), validation.By(checkBaseURL)),
		validation.Field(&o.CredentialsFile, validation.When(strings.TrimSpace(o.AccessToken) == "",
			validation.Required.Error("set an access token or a credentials file"))),
		validation.Field(&o.MaxReauthTries, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

func checkBaseURL(value any) error {
	raw, _ := value.(string)
	_, err := buildAPIBaseURL(raw)
	return err
}

func BuildEndpoints(rawBaseURL string) (APIEndpoints, error) {
	apiBaseURL, err := buildAPIBaseURL(rawBaseURL)
	if err != nil {
		return APIEndpoints{}, err
	}
	return APIEndpoints{
		BaseURL:    apiBaseURL,
		EventsURL:  apiBaseURL + eventsPath,
		RefreshURL: apiBaseURL + refreshPath,
	}, nil
}

func buildAPIBaseURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("expected absolute URL like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return "", errors.New("base URL scheme must be http or https")
	}

	// Pasted endpoint URLs collapse to the API root.
	parsed.Path = "/api"
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return strings.TrimRight(parsed.String(), "/"), nil
}
