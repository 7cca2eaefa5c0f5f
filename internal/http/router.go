package http

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/geocoder89/useradmin/internal/accounts"
	"github.com/geocoder89/useradmin/internal/auth"
	"github.com/geocoder89/useradmin/internal/config"
	"github.com/geocoder89/useradmin/internal/domain/user"
	"github.com/geocoder89/useradmin/internal/http/handlers"
	"github.com/geocoder89/useradmin/internal/http/middlewares"
	"github.com/geocoder89/useradmin/internal/http/views"
	"github.com/geocoder89/useradmin/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "useradmin"

// Deps is everything the router needs. Ping, Limiter, Prom and Gatherer are optional.
type Deps struct {
	Config   config.Config
	Accounts *accounts.Service
	JWT      *auth.Manager
	Refresh  handlers.RefreshTokenStore
	Ping     func(ctx context.Context) error
	Limiter  middlewares.HitCounter
	Prom     *observability.Prom
	Gatherer prometheus.Gatherer
}

func NewRouter(d Deps) (*gin.Engine, error) {
	if d.Config.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	tmpl, err := views.Parse()
	if err != nil {
		return nil, err
	}
	r.SetHTMLTemplate(tmpl)

	// middleware

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.SecurityHeaders(d.Config.IsProd()))
	r.Use(middlewares.CORSMiddleware(d.Config.Security.CORSAllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(d.Config.MaxBodyBytes))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	authMW := middlewares.NewAuthMiddleware(d.JWT)
	r.Use(authMW.LoadSession())
	r.Use(middlewares.RequestLogger())

	// health
	ping := func() error {
		if d.Ping == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return d.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// Wire up handlers
	var metrics handlers.LoginRecorder
	if d.Prom != nil {
		metrics = d.Prom
	}
	authHandler := handlers.NewAuthHandler(d.Accounts, d.JWT, d.Refresh, metrics, d.Config)
	usersHandler := handlers.NewUsersHandler(d.Accounts)
	pagesHandler := handlers.NewPagesHandler(d.Accounts, d.Accounts, authHandler)

	var loginLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if d.Limiter != nil {
		limiter := middlewares.NewRateLimiter(d.Limiter, "login", d.Config.Security.LoginRateLimit, d.Config.Security.LoginRateWindow)
		if d.Prom != nil {
			limiter.OnLimited = func() { d.Prom.ObserveLogin("throttled") }
		}
		loginLimit = limiter.RateLimiterMiddleware(middlewares.KeyByIP)
	}

	// JSON API
	api := r.Group("/api")
	{
		public := api.Group("", middlewares.RequireJSON())

		public.POST("/register", loginLimit, authHandler.Register)
		public.POST("/auth/login", loginLimit, authHandler.Login)
		public.POST("/auth/refresh", authHandler.Refresh)
		public.POST("/auth/logout", authHandler.Logout)
		public.GET("/auth/session", authHandler.Session)

		// role gate first so anonymous callers get 401 whatever they send
		admin := api.Group("", authMW.RequireRole(user.RoleAdmin), middlewares.RequireJSON())

		admin.GET("/users", usersHandler.ListUsers)
		admin.POST("/users", usersHandler.CreateUser)
		admin.GET("/users/:id", usersHandler.GetUser)
		admin.PUT("/users/:id", usersHandler.UpdateUser)
		admin.DELETE("/users/:id", usersHandler.DeleteUser)
		admin.GET("/admin/stats", usersHandler.Stats)
	}

	// Pages
	pages := r.Group("")
	pages.Use(authMW.PageGate())
	{
		pages.GET("/", func(c *gin.Context) { c.Redirect(nethttp.StatusFound, "/dashboard") })
		pages.GET("/login", pagesHandler.LoginPage)
		pages.POST("/login", loginLimit, pagesHandler.Login)
		pages.GET("/register", pagesHandler.RegisterPage)
		pages.POST("/register", loginLimit, pagesHandler.Register)
		pages.POST("/logout", pagesHandler.Logout)
		pages.GET("/dashboard", pagesHandler.Dashboard)

		adminPages := pages.Group("/admin")
		adminPages.Use(pagesHandler.AdminOnly())

		adminPages.GET("", pagesHandler.AdminHome)
		adminPages.GET("/users", pagesHandler.UsersPage)
		adminPages.GET("/users/create", pagesHandler.CreateUserPage)
		adminPages.POST("/users/create", pagesHandler.CreateUser)
		adminPages.GET("/users/:id/edit", pagesHandler.EditUserPage)
		adminPages.POST("/users/:id/edit", pagesHandler.EditUser)
		adminPages.POST("/users/:id/delete", pagesHandler.DeleteUser)
	}

	return r, nil
}
