package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spectra-media/lead-bridge/internal/audit"
	"github.com/spectra-media/lead-bridge/internal/config"
	"github.com/spectra-media/lead-bridge/internal/crm"
	"github.com/spectra-media/lead-bridge/internal/dedupe"
	"github.com/spectra-media/lead-bridge/internal/jwt"
	"github.com/spectra-media/lead-bridge/internal/leadform"
	"github.com/spectra-media/lead-bridge/internal/mailer"
	"github.com/spectra-media/lead-bridge/internal/observe"
	"github.com/spectra-media/lead-bridge/internal/secrets"
	"github.com/spectra-media/lead-bridge/internal/server"
	"github.com/spectra-media/lead-bridge/internal/token"
)

// initialTokenValidity is the assumed lifetime of a seed token supplied via
// configuration. Its true expiry is unknown, so it only bridges the gap
// until the first refresh completes.
const initialTokenValidity = 5 * time.Minute

func configureServerRoutes(ctx context.Context, cfg config.Config, keeper *token.Keeper) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	auditor := audit.Middleware()

	// Allow headroom above the attachment limit for the other form fields
	// and multipart framing.
	requestLimiter := maxRequestSize(cfg.Intake.MaxUploadBytes + 20<<10)

	submissionMiddleware := alice.New(requestLimiter, auditor)
	if cfg.Authorization.Enabled() {
		authorizer, err := jwt.Middleware(cfg.Authorization)
		if err != nil {
			return nil, fmt.Errorf("authorizer configuration failed: %w", err)
		}
		submissionMiddleware = submissionMiddleware.Append(authorizer)
	}

	// setup submission handler and dependencies
	crmClient, err := crm.New(cfg.CRM, keeper.TokenSource(ctx, cfg.CRM.AuthScheme))
	if err != nil {
		return nil, fmt.Errorf("crm client configuration failed: %w", err)
	}

	mapper, err := leadform.NewMapper(cfg.Intake.DefaultCompany, cfg.Intake.FieldMapPath)
	if err != nil {
		return nil, fmt.Errorf("field mapping configuration failed: %w", err)
	}

	var suppressor *dedupe.Suppressor
	if cfg.Intake.DedupeEnabled {
		suppressor = dedupe.New(time.Duration(cfg.Intake.DedupeTTLSeconds)*time.Second, 10_000)
	}

	var sender confirmationSender
	if cfg.SMTP.Enabled() {
		m, err := mailer.New(cfg.SMTP)
		if err != nil {
			return nil, fmt.Errorf("mailer configuration failed: %w", err)
		}
		sender = m
	}

	submissionHandler := handlePostLead(mapper, crmClient, suppressor, sender, cfg.Intake.MaxUploadBytes)
	mux.Handle("POST /submit", submissionMiddleware.Then(submissionHandler))

	// healthchecks are not included in telemetry or authorization
	muxWithoutTelemetry.Handle("GET /healthz", alice.New(maxRequestSize(20<<10)).Then(handleHealthCheck()))

	return mux, nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	if secrets.NeedsResolution(cfg.CRM) {
		kmsClient, err := secrets.NewKMSClient(ctx)
		if err != nil {
			return fmt.Errorf("kms configuration failed: %w", err)
		}
		if err := secrets.ResolveCRMCredentials(ctx, kmsClient, &cfg.CRM); err != nil {
			return fmt.Errorf("credential decryption failed: %w", err)
		}
	}

	if err := cfg.CRM.Validate(); err != nil {
		return fmt.Errorf("crm configuration invalid: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	keeper, err := configureTokenKeeper(cfg.CRM)
	if err != nil {
		return fmt.Errorf("token keeper configuration failed: %w", err)
	}

	if cfg.CRM.EagerRefresh {
		// A startup refresh failure is not fatal: the first submission will
		// retry the exchange and report the real problem.
		if err := keeper.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("startup token refresh failed, continuing")
		}
	}

	refreshCtx, stopRefresh := context.WithCancel(ctx)
	go keeper.Run(refreshCtx)

	hooks := &server.ShutdownHooks{}
	hooks.AddContext("telemetry", shutdownTelemetry)
	hooks.Add("token refresh loop", func() error {
		stopRefresh()
		return nil
	})

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg, keeper)
	if err != nil {
		stopRefresh()
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if err := server.Serve(ctx, httpServer, hooks, shutdownTimeout); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureTokenKeeper(cfg config.CRMConfig) (*token.Keeper, error) {
	provider := token.NewHTTPProvider(cfg.TokenURL, http.DefaultClient)

	opts := []token.KeeperOption{
		token.WithSafetyMargin(time.Duration(cfg.SafetyMarginSeconds) * time.Second),
		token.WithRefreshInterval(time.Duration(cfg.RefreshIntervalSeconds) * time.Second),
	}
	if cfg.InitialAccessToken != "" {
		opts = append(opts, token.WithInitialToken(
			cfg.InitialAccessToken,
			time.Now().Add(initialTokenValidity),
		))
	}

	return token.NewKeeper(provider, token.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
	}, opts...)
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
