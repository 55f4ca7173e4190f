package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	session, err := s.store.CreateSession(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context())
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, listSessionsResponse{Sessions: sessions, Total: len(sessions)})
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) updateSession(c *gin.Context) {
	var req updateSessionRequest
	if !bindJSON(c, s.logger, &req) {
		return
	}
	session, err := s.store.UpdateSession(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) endSession(c *gin.Context) {
	session, err := s.store.EndSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.store.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}
