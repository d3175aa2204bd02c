package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/toolgate/toolgate/pkg/audit"
	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/authz"
	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/flow"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/mcp"
	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/store"
	"github.com/toolgate/toolgate/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization gateway",
		Long: `Start the gateway: connect to Redis, seed the tool registry from the
configured catalog, and listen for MCP client connections. Requests are
authorized against the caller's roles and proxied to the backend MCP
server.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	if cfg.Server.BackendURL == "" {
		return fmt.Errorf("server.backend_url is required to serve")
	}

	backendURL, err := url.Parse(cfg.Server.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backend URL %s: %w", cfg.Server.BackendURL, err)
	}

	logger.Infow("connecting to credential store", "addr", cfg.Redis.Addr)
	tokens, err := store.NewRedisStore(ctx, store.RedisConfig{
		Addr:      cfg.Redis.Addr,
		Username:  cfg.Redis.Username,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to credential store: %w", err)
	}
	defer tokens.Close()

	mappings, err := loadRoleMappings(cfg)
	if err != nil {
		return err
	}

	reg := registry.NewInMemoryRegistry(cfg.ToolDescriptors())
	metrics := telemetry.NewMetrics()
	engine := authz.NewEngine(authz.EngineConfig{
		Mappings: mappings,
		Registry: reg,
		Tokens:   tokens,
		Metrics:  metrics,
	})

	auditor, err := buildAuditor(cfg)
	if err != nil {
		return err
	}

	flowHandler := flow.NewHandler(flow.HandlerConfig{
		Tokens:  tokens,
		Engine:  engine,
		Auditor: auditor,
		Metrics: metrics,
	})

	router := buildRouter(cfg, backendURL, engine, auditor, metrics, flowHandler)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infow("gateway listening",
			"addr", cfg.Server.ListenAddr,
			"backend", cfg.Server.BackendURL,
			"tools", len(cfg.Catalog),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func loadRoleMappings(cfg *config.Config) (authz.RoleMappings, error) {
	if cfg.AuthzConfigPath == "" {
		return nil, nil
	}
	authzConfig, err := authz.LoadConfig(cfg.AuthzConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load role mappings: %w", err)
	}
	logger.Infow("loaded role mapping override", "path", cfg.AuthzConfigPath, "roles", len(authzConfig.RoleMappings))
	return authzConfig.RoleMappings, nil
}

func buildAuditor(cfg *config.Config) (*audit.Auditor, error) {
	auditConfig := audit.DefaultConfig()
	if cfg.AuditConfigPath != "" {
		loaded, err := audit.LoadFromFile(cfg.AuditConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load audit configuration: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return nil, fmt.Errorf("invalid audit configuration: %w", err)
		}
		auditConfig = loaded
	}

	auditor, err := audit.NewAuditor(auditConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create auditor: %w", err)
	}
	return auditor, nil
}

// buildRouter assembles the gateway's HTTP surface: the MCP proxy behind
// the full middleware chain, the credential flow endpoints, and the
// operational endpoints.
func buildRouter(
	cfg *config.Config,
	backendURL *url.URL,
	engine *authz.Engine,
	auditor *audit.Auditor,
	metrics *telemetry.Metrics,
	flowHandler *flow.Handler,
) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(backendURL)
	proxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		logger.Errorw("backend proxy error", "backend", cfg.Server.BackendURL, "error", err)
		http.Error(w, "backend unavailable", http.StatusBadGateway)
	}

	// Claims first, then message parsing, then audit so denials are
	// recorded, then the authorization decision itself.
	mcpChain := auth.ClaimsMiddleware(
		mcp.ParsingMiddleware(
			auditor.Middleware(
				engine.Middleware(proxy),
			),
		),
	)

	router := chi.NewRouter()
	router.Use(metrics.Instrument)

	router.Handle("/mcp", mcpChain)
	router.Handle("/mcp/*", mcpChain)
	router.Handle("/messages", mcpChain)
	router.Handle("/messages/*", mcpChain)

	router.Group(func(r chi.Router) {
		r.Use(auth.ClaimsMiddleware)
		flowHandler.Routes(r)
	})

	router.Handle("/metrics", metrics.Handler())

	return router
}
