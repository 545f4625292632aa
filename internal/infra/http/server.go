package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"heirloom/internal/app"
	"heirloom/internal/config"
	"heirloom/internal/domain"
	"heirloom/internal/infra/auth/jwtauth"
	"heirloom/internal/infra/auth/rbac"
	"heirloom/internal/logging"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg config.Config
	r   *gin.Engine
	log logging.Logger

	svc    *app.Services
	health func(ctx context.Context) error

	adminAPIKey string

	authenticator domain.Authenticator
	authorizer    *rbac.Authorizer
	authInitErr   error

	throttler            domain.Throttle
	quota                domain.Quota
	throttlePerPrincipal bool
	throttleFailClosed   bool
}

type ServerDeps struct {
	Services      *app.Services
	Health        func(ctx context.Context) error
	Authenticator domain.Authenticator
	Throttle      domain.Throttle
	Logger        logging.Logger
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{
		cfg:           cfg,
		r:             r,
		log:           log,
		svc:           deps.Services,
		health:        deps.Health,
		adminAPIKey:   cfg.AdminAPIKey,
		authenticator: deps.Authenticator,
		authorizer:    rbac.NewAuthorizer(),
	}
	r.Use(requestLogger(log))
	s.initThrottle(deps.Throttle)
	s.initAuth()
	s.routes()
	return s
}

func (s *Server) initAuth() {
	switch s.cfg.AuthMode {
	case "":
		s.authInitErr = errors.New("AUTH_MODE is required")
	case "none":
	case "jwt":
		if s.authenticator != nil {
			return
		}
		authenticator, err := jwtauth.NewAuthenticator(s.cfg)
		if err != nil {
			s.authInitErr = err
			return
		}
		s.authenticator = authenticator
	default:
		s.authInitErr = errors.New("unsupported auth mode")
	}
}

func (s *Server) initThrottle(t domain.Throttle) {
	s.throttler = t
	s.quota = domain.Quota{Limit: s.cfg.RateLimitRequests, Window: time.Minute}
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.quota.Window = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
	s.throttlePerPrincipal = s.cfg.RateLimitIncludeSubject
	s.throttleFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)

	v1 := s.r.Group("/v1")
	{
		v1.POST("/vaults", s.handleCreateVault)
		v1.GET("/vaults/:id", s.handleGetVault)
		v1.POST("/vaults/:id/check-in", s.handleCheckIn)
		v1.POST("/vaults/:id/cancel", s.handleCancelVault)
		v1.POST("/vaults/:id/secret", s.handleDistributeSecret)
		v1.GET("/vaults/:id/audit", s.handleVaultAudit)

		v1.POST("/vaults/:id/guardians", s.handleAddGuardian)
		v1.POST("/vaults/:id/attestors", s.handleAddAttestor)
		v1.POST("/vaults/:id/beneficiaries", s.handleAddBeneficiary)
		v1.GET("/vaults/:id/parties", s.handleListParties)
		v1.DELETE("/vaults/:id/guardians/:guardianId", s.handleRemoveGuardian)
		v1.PUT("/vaults/:id/guardians/:guardianId", s.handleReplaceGuardian)
		v1.POST("/vaults/:id/parties/:partyId/inactive", s.handleMarkInactive)
		v1.POST("/invites/:token/accept", s.handleAcceptInvite)
		v1.POST("/invites/:token/decline", s.handleDeclineInvite)

		v1.POST("/vaults/:id/claims", s.handleCreateClaim)
		v1.GET("/vaults/:id/claims", s.handleListClaims)
		v1.GET("/claims/:id", s.handleGetClaim)
		v1.POST("/claims/:id/evidence", s.handleAttachEvidence)
		v1.POST("/claims/:id/attestations", s.handleClaimAttestation)
		v1.GET("/claims/:id/quorum", s.handleClaimQuorum)
		v1.POST("/signals", s.handleSignal)

		v1.POST("/recoveries", s.handleCreateRecovery)
		v1.GET("/recoveries/:id", s.handleGetRecovery)
		v1.POST("/recoveries/:id/attestations", s.handleRecoveryAttestation)
		v1.POST("/recoveries/:id/complete", s.handleCompleteRecovery)
		v1.POST("/recoveries/:id/cancel", s.handleCancelRecovery)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	if s.authInitErr != nil {
		return s.authInitErr
	}
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info(ctx, "http server listening", "addr", s.cfg.HTTPAddr, "auth_mode", s.cfg.AuthMode)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	mode := "memory"
	if s.cfg.PostgresDSN != "" {
		mode = "db"
	}
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "mode": mode})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": mode})
}
