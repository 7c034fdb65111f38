package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cleverdesk/printing-agent/internal/archive"
	"github.com/cleverdesk/printing-agent/internal/printer"
	"github.com/cleverdesk/printing-agent/internal/remote"
	"github.com/cleverdesk/printing-agent/internal/settings"
	"github.com/cleverdesk/printing-agent/internal/spool"
)

// maxBodyBytes admits large base64-encoded PDFs.
const maxBodyBytes = 50 << 20

// Server is the local HTTP surface of the agent. It is consumed by desktop
// clients on the same machine; CORS is therefore wide open.
type Server struct {
	spooler    *spool.Spooler
	enumerator *printer.Enumerator
	settings   *settings.Store
	archiver   *archive.Archiver
	remote     *remote.Client
	hub        *Hub
	engine     *gin.Engine
}

func NewServer(sp *spool.Spooler, enum *printer.Enumerator, st *settings.Store, arch *archive.Archiver, rc *remote.Client) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		spooler:    sp,
		enumerator: enum,
		settings:   st,
		archiver:   arch,
		remote:     rc,
		hub:        NewHub(),
		engine:     gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(corsMiddleware())
	s.engine.Use(bodyLimitMiddleware(maxBodyBytes))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ws", s.hub.Handle)

	api := s.engine.Group("/api")
	{
		api.POST("/print", s.handlePrint)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:jobId", s.handleGetJob)
		api.POST("/jobs/:jobId/cancel", s.handleCancelJob)
		api.POST("/jobs/:jobId/retry", s.handleRetryJob)
		api.POST("/jobs/clear-completed", s.handleClearCompleted)
		api.GET("/status", s.handleStatus)
		api.GET("/printers", s.handleListPrinters)
		api.GET("/history", s.handleHistory)
		api.GET("/test-connection", s.handleTestConnection)
		api.POST("/settings/default-printer", s.handleSetDefaultPrinter)
	}
}

// Hub returns the websocket hub so the process wiring can feed it spooler
// events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router exposes the handler for the http.Server in cmd and for tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}
