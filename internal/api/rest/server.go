package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/canline/corebus/internal/api/websocket"
	"github.com/canline/corebus/internal/audit"
	"github.com/canline/corebus/internal/auth"
	"github.com/canline/corebus/internal/canframe"
	"github.com/canline/corebus/internal/config"
	modbusserver "github.com/canline/corebus/internal/modbus/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the introspection/control REST surface: it reads and
// writes through the same FrameProcessor and ServerEngine the wire
// transports drive, so "decode this frame" or "write this register"
// behaves identically whether it arrived over HTTP or the bus.
type Server struct {
	router       *gin.Engine
	logger       *zap.Logger
	server       *http.Server
	wsHub        *websocket.Hub
	authService  *auth.AuthService
	busProcessor *canframe.Processor
	modbusEngine *modbusserver.Engine
	auditStore   *audit.Store // nil when running without a configured audit database
}

func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	wsHub *websocket.Hub,
	authService *auth.AuthService,
	busProcessor *canframe.Processor,
	modbusEngine *modbusserver.Engine,
	auditStore *audit.Store,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:       gin.New(),
		logger:       logger,
		wsHub:        wsHub,
		authService:  authService,
		busProcessor: busProcessor,
		modbusEngine: modbusEngine,
		auditStore:   auditStore,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		authPublic := v1.Group("/auth")
		{
			authPublic.POST("/login", s.login)
			authPublic.POST("/refresh", s.refreshToken)
		}

		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.POST("/logout", s.logout)
			authProtected.GET("/me", s.getCurrentUser)
		}

		machineTokens := v1.Group("/machine-tokens")
		machineTokens.Use(s.authService.AuthMiddleware())
		machineTokens.Use(auth.RequirePermission(auth.PermAdmin))
		{
			machineTokens.POST("", s.createMachineToken)
			machineTokens.GET("", s.listMachineTokens)
			machineTokens.PATCH("/:id", s.updateMachineToken)
			machineTokens.DELETE("/:id", s.deleteMachineToken)
		}

		users := v1.Group("/users")
		users.Use(s.authService.AuthMiddleware())
		users.Use(auth.RequirePermission(auth.PermAdmin))
		{
			users.POST("", s.createUser)
			users.GET("", s.listUsers)
			users.PATCH("/:id", s.updateUser)
			users.DELETE("/:id", s.deleteUser)
		}

		// ==================== CAN BUS INTROSPECTION (OPERATOR+) ====================
		bus := v1.Group("/bus")
		bus.Use(s.authService.AuthMiddleware())
		bus.Use(auth.RequirePermission(auth.PermOperator))
		{
			bus.GET("/messages", s.listBusMessages)
			bus.GET("/messages/:id", s.getBusMessage)
			bus.POST("/decode", s.decodeFrame)
		}

		// ==================== MODBUS DATA MAP ====================
		modbusGroup := v1.Group("/modbus")
		modbusGroup.Use(s.authService.AuthMiddleware())
		{
			modbusGroup.GET("/registers/:type", auth.RequirePermission(auth.PermOperator), s.readRegisters)
			modbusGroup.POST("/registers/:type", auth.RequirePermission(auth.PermTechnician), s.writeRegisters)
			modbusGroup.GET("/diagnostics", auth.RequirePermission(auth.PermOperator), s.getModbusDiagnostics)
		}

		// ==================== WEBSOCKET (PUBLIC - auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
