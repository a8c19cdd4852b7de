package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"infracontrol/internal/handlers"
	"infracontrol/internal/manager"
	"infracontrol/internal/middleware"
	"infracontrol/internal/models"
	"infracontrol/internal/version"
)

type App struct {
	manager     *manager.Manager
	authService *middleware.AuthService
	wsHub       *middleware.Hub
	rateLimiter *middleware.RateLimiter
	staticDir   string

	// authRequired guards /api mutations with a bearer token and role.
	authRequired bool
}

func newApp(mgr *manager.Manager) *App {
	settings := mgr.Settings()
	staticDir := mgr.Paths.StaticDir()
	if settings.StaticDir != "" {
		staticDir = mgr.Paths.Resolve(settings.StaticDir)
	}
	return &App{
		manager:     mgr,
		authService: middleware.NewAuthService(settings.JWTSecret),
		wsHub:       middleware.NewHub(mgr.Log, mgr.Snapshot),
		rateLimiter: middleware.NewRateLimiter(rate.Every(time.Minute/300), 30),
		staticDir:   staticDir,

		authRequired: settings.AuthRequired,
	}
}

// guard returns the auth chain for a route group: token plus one of roles
// when auth is required, nothing otherwise.
func (app *App) guard(roles ...models.Role) []gin.HandlerFunc {
	if !app.authRequired {
		return nil
	}
	if len(roles) == 0 {
		return []gin.HandlerFunc{app.authService.RequireAPIAuth()}
	}
	return []gin.HandlerFunc{app.authService.RequireAPIAuth(), middleware.RequireRole(roles...)}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var port int

	cmd := &cobra.Command{
		Use:     "infracontrol",
		Short:   "Infrastructure monitoring dashboard",
		Version: version.String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, port)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", manager.DefaultConfigFile, "registry file (.json, .yaml or .yml)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides settings.port)")
	return cmd
}

func run(configPath string, port int) error {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	mgr, err := manager.NewManagerWithConfig(configPath)
	if err != nil {
		return fmt.Errorf("manager failed to initialize: %w", err)
	}
	app := newApp(mgr)
	settings := mgr.Settings()
	if port <= 0 {
		port = settings.Port
	}

	if !settings.AuthRequired {
		mgr.Log.Warn().Msg("api mutations are open; set auth_required to require login tokens")
	}

	go app.wsHub.Run()
	mgr.OnSnapshot(app.wsHub.BroadcastSnapshot)
	mgr.Start()

	srv := &http.Server{
		Addr:           ":" + strconv.Itoa(port),
		Handler:        app.setupRouter(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serveErr := make(chan error, 1)
	if settings.TLSEnabled {
		if settings.TLSCertPath == "" || settings.TLSKeyPath == "" {
			mgr.Shutdown()
			return fmt.Errorf("TLS is enabled but %s or %s not provided", manager.EnvTLSCert, manager.EnvTLSKey)
		}
		go func() {
			mgr.Log.Info().Int("port", port).Msg("starting HTTPS server")
			serveErr <- srv.ListenAndServeTLS(settings.TLSCertPath, settings.TLSKeyPath)
		}()
	} else {
		go func() {
			mgr.Log.Info().Int("port", port).Msg("starting server")
			serveErr <- srv.ListenAndServe()
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-quit:
		mgr.Log.Info().Msg("shutting down server")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
			mgr.Log.Error().Err(err).Msg("server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		mgr.Log.Error().Err(err).Msg("server forced to shutdown")
	}

	app.rateLimiter.Stop()
	app.wsHub.Stop()
	mgr.Shutdown()
	return runErr
}

func (app *App) setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())

	r.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))

	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(app.rateLimiter.Middleware())

	authHandlers := handlers.NewAuthHandlers(app.authService, app.manager)
	userHandlers := handlers.NewUserHandlers(app.authService, app.manager)
	managerHandlers := handlers.NewManagerHandlers(app.manager)

	// Public routes
	r.GET("/healthz", managerHandlers.Healthz)
	r.GET("/readyz", managerHandlers.Readyz)
	r.GET("/version", managerHandlers.Version)
	r.GET("/api/status", managerHandlers.APIStatus)
	r.POST("/api/login", authHandlers.APILogin)
	r.GET("/ws", app.wsHub.HandleWebSocket())

	// API routes (token and role checks when auth_required is set)
	api := r.Group("/api")
	{
		api.GET("/targets", append(app.guard(), managerHandlers.APITargets)...)
	}

	editors := api.Group("", app.guard(models.RoleAdmin, models.RoleOperator)...)
	{
		editors.POST("/domains", managerHandlers.APIDomainsAdd)
		editors.PUT("/domains", managerHandlers.APIDomainsRename)
		editors.DELETE("/domains", managerHandlers.APIDomainsRemove)
	}

	admins := api.Group("", app.guard(models.RoleAdmin)...)
	{
		admins.POST("/users", userHandlers.APIUsersAdd)
		admins.DELETE("/users", userHandlers.APIUsersRemove)
		admins.POST("/targets", managerHandlers.APITargetsAdd)
		admins.PUT("/targets/:id", managerHandlers.APITargetsUpdate)
		admins.DELETE("/targets/:id", managerHandlers.APITargetsRemove)
		admins.PUT("/cluster", managerHandlers.APIClusterSet)
	}

	// Dashboard frontend
	r.NoRoute(handlers.Static(app.staticDir))

	return r
}
