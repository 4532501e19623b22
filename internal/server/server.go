// Package server exposes a read-only HTTP view over the migration engine:
// status, verification, and batch listings for dashboards and tooling. It
// never mutates the chain or the graph.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/crochetdb/crochet/internal/driver"
	"github.com/crochetdb/crochet/internal/migrate"
	"github.com/crochetdb/crochet/internal/verify"
)

type Server struct {
	Engine   *migrate.Engine
	Registry *migrate.Registry
	Driver   driver.GraphDriver
}

func NewServer(engine *migrate.Engine, registry *migrate.Registry, drv driver.GraphDriver) *Server {
	return &Server{Engine: engine, Registry: registry, Driver: drv}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/health", s.Health)
	r.GET("/status", s.Status)
	r.GET("/verify", s.Verify)
	r.GET("/batches", s.Batches)

	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Status(c *gin.Context) {
	st, err := s.Engine.Status()
	if err != nil {
		log.Error().Err(err).Msg("status request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"head":    st.Head,
		"applied": st.Applied,
		"pending": st.Pending,
		"batches": st.Batches,
		"issues":  st.Issues,
	})
}

func (s *Server) Verify(c *gin.Context) {
	report, err := verify.Run(c.Request.Context(), s.Registry, s.Engine.Ledger(), s.Driver)
	if err != nil {
		log.Error().Err(err).Msg("verify request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"passed": report.Passed(),
		"checks": report.Checks,
	})
}

func (s *Server) Batches(c *gin.Context) {
	batches, err := s.Engine.Ledger().Batches(c.Query("migration_id"))
	if err != nil {
		log.Error().Err(err).Msg("batches request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}
