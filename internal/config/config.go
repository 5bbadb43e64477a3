package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Authorization AuthorizationConfig
	CRM           CRMConfig
	Intake        IntakeConfig
	Observe       ObserveConfig
	SMTP          SMTPConfig
	Server        ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// CRMConfig specifies the CRM API endpoints and the credentials used for the
// refresh-token exchange. The defaults target Zoho CRM's EU region, the
// service this bridge was originally built against.
type CRMConfig struct {
	TokenURL      string `env:"CRM_TOKEN_URL, default=https://accounts.zoho.eu/oauth/v2/token"`
	LeadAPIURL    string `env:"CRM_LEAD_API_URL, default=https://www.zohoapis.eu/crm/v2/Leads"`
	AttachmentURL string `env:"CRM_ATTACHMENT_URL, default=https://www.zohoapis.eu/crm/v2/Leads/{record_id}/Attachments"`

	// AuthScheme is the Authorization header scheme for CRM API calls. Zoho
	// uses a vendor scheme rather than "Bearer".
	AuthScheme string `env:"CRM_AUTH_SCHEME, default=Zoho-oauthtoken"`

	ClientID     string `env:"CRM_CLIENT_ID"`
	ClientSecret string `env:"CRM_CLIENT_SECRET"`
	RefreshToken string `env:"CRM_REFRESH_TOKEN"`

	// KMS ciphertext alternatives for the secret material. When set, these
	// are decrypted once at startup and take precedence over the plaintext
	// variables.
	ClientSecretCiphertext string `env:"CRM_CLIENT_SECRET_KMS_CIPHERTEXT"`
	RefreshTokenCiphertext string `env:"CRM_REFRESH_TOKEN_KMS_CIPHERTEXT"`

	// InitialAccessToken optionally seeds the keeper with an externally
	// obtained token, letting the first requests proceed without paying
	// refresh latency. Its real expiry is unknown, so it is assumed valid
	// only briefly.
	InitialAccessToken string `env:"CRM_INITIAL_ACCESS_TOKEN"`

	RefreshIntervalSeconds int  `env:"CRM_TOKEN_REFRESH_INTERVAL_SECS, default=30"`
	SafetyMarginSeconds    int  `env:"CRM_TOKEN_SAFETY_MARGIN_SECS, default=60"`
	EagerRefresh           bool `env:"CRM_TOKEN_EAGER_REFRESH, default=true"`
}

// IntakeConfig controls handling of the lead submission route.
type IntakeConfig struct {
	DefaultCompany string `env:"LEAD_DEFAULT_COMPANY, default=Spectra Media"`

	// FieldMapPath optionally points at a YAML file overriding the built-in
	// form-field to CRM-field mapping.
	FieldMapPath string `env:"LEAD_FIELD_MAP_PATH"`

	// MaxUploadBytes bounds the attachment accepted with a submission.
	MaxUploadBytes int64 `env:"LEAD_MAX_UPLOAD_BYTES, default=10485760"`

	DedupeEnabled    bool `env:"LEAD_DEDUPE_ENABLED, default=true"`
	DedupeTTLSeconds int  `env:"LEAD_DEDUPE_TTL_SECS, default=300"`
}

// AuthorizationConfig enables JWT authorization of the submission route when
// an issuer URL is configured. Left empty, the route is open.
type AuthorizationConfig struct {
	Audience            string `env:"JWT_AUDIENCE, default=lead-bridge"`
	IssuerURL           string `env:"JWT_ISSUER_URL"`
	ConfigurationStatic string `env:"JWT_JWKS_STATIC"`
}

func (c AuthorizationConfig) Enabled() bool {
	return c.IssuerURL != ""
}

// SMTPConfig configures the confirmation email. Sending is disabled unless
// host, user and destination are all present.
type SMTPConfig struct {
	Host     string `env:"SMTP_SERVER, default=smtp.gmail.com"`
	Port     int    `env:"SMTP_PORT, default=587"`
	User     string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"EMAIL_FROM"`
	To       string `env:"EMAIL_DEST"`
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.User != "" && c.To != ""
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=lead-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks that the credential configuration is complete. A
// ciphertext-supplied secret counts as present, so the check is correct
// whether it runs before or after KMS resolution. A failure here is fatal at
// startup: without the full credential set the keeper can never produce a
// token.
func (c *CRMConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("CRM_CLIENT_ID is required")
	}
	if c.ClientSecret == "" && c.ClientSecretCiphertext == "" {
		return fmt.Errorf("one of CRM_CLIENT_SECRET or CRM_CLIENT_SECRET_KMS_CIPHERTEXT is required")
	}
	if c.RefreshToken == "" && c.RefreshTokenCiphertext == "" {
		return fmt.Errorf("one of CRM_REFRESH_TOKEN or CRM_REFRESH_TOKEN_KMS_CIPHERTEXT is required")
	}
	return nil
}
