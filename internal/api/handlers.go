// Package api wires rpcx.Handler (a *kvserver.Server) onto a Gin HTTP
// router, one small POST endpoint per RPC method — the shape the teacher
// repo used for its own /kv and /internal endpoint groups.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dynamokv/internal/rpcx"
)

// Handler adapts an rpcx.Handler (the replica server) to HTTP/JSON.
type Handler struct {
	srv rpcx.Handler
}

// NewHandler wraps srv for HTTP dispatch.
func NewHandler(srv rpcx.Handler) *Handler {
	return &Handler{srv: srv}
}

// Register mounts the RPC endpoints on r.
func (h *Handler) Register(r *gin.Engine) {
	rpc := r.Group("/rpc")
	rpc.POST("/get", h.Get)
	rpc.POST("/put", h.Put)
	rpc.POST("/append", h.Append)
}

func (h *Handler) Get(c *gin.Context) {
	var args rpcx.GetArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := h.srv.Get(args)
	if h.writeShardMismatch(c, err) {
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h *Handler) Put(c *gin.Context) {
	var args rpcx.PutArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := h.srv.Put(args)
	if h.writeShardMismatch(c, err) {
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h *Handler) Append(c *gin.Context) {
	var args rpcx.AppendArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := h.srv.Append(args)
	if h.writeShardMismatch(c, err) {
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, reply)
}

// writeShardMismatch sets rpcx.ShardMismatchHeader and replies 200 with an
// empty JSON object when err is a *rpcx.ShardError, so HTTPEndpoint can recognize
// it without depending on HTTP status codes for RPC-level errors. Reports
// whether it handled the response.
func (h *Handler) writeShardMismatch(c *gin.Context, err error) bool {
	var shardErr *rpcx.ShardError
	if !errors.As(err, &shardErr) {
		return false
	}
	c.Header(rpcx.ShardMismatchHeader, "1")
	c.JSON(http.StatusOK, gin.H{})
	return true
}
