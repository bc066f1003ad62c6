// Package api exposes the broker over HTTP. Authentication is handled
// by the fronting proxy, which injects the caller's id in X-User-Id;
// admin routes live under /api/v2 and are expected to be gated there too.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/tunneldesk/tunneldesk/pkg/broker"
	"github.com/tunneldesk/tunneldesk/pkg/db"
	"github.com/tunneldesk/tunneldesk/pkg/store"
	"gorm.io/datatypes"
)

// Response is the envelope every route answers with. Code 0 is success;
// code 1 carries a human-readable Msg and, for known failures, a Reason
// the caller can branch on.
type Response struct {
	Code   int         `json:"code"`
	Msg    string      `json:"msg,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Count  int64       `json:"count,omitempty"`
	Data   interface{} `json:"data"`
}

const (
	ReasonSubdomainTaken = "SubdomainTaken"
	ReasonIDCollision    = "IdCollision"
)

func reasonOf(err error) string {
	switch {
	case errors.Is(err, broker.ErrSubdomainTaken):
		return ReasonSubdomainTaken
	case errors.Is(err, broker.ErrIDCollision):
		return ReasonIDCollision
	default:
		return ""
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(http.StatusOK, Response{
		Code:   1,
		Msg:    err.Error(),
		Reason: reasonOf(err),
	})
}

type addTunnelRequest struct {
	Protocol  string `json:"protocol" binding:"required"`
	Name      string `json:"name"`
	SubDomain string `json:"subdomain" binding:"required"`
	LocalPort int    `json:"localPort" binding:"required"`
}

type adminAddTunnelRequest struct {
	addTunnelRequest
	RemotePort  int            `json:"remotePort" binding:"required"`
	ExpiredTime *time.Time     `json:"expiredTime"`
	FullURL     string         `json:"fullUrl"`
	Metadata    datatypes.JSON `json:"metadata"`
}

type editTunnelRequest struct {
	Name string `json:"name" binding:"required"`
}

type auditTunnelRequest struct {
	TunnelID    int64      `json:"tunnelId" binding:"required"`
	UserID      int64      `json:"userId" binding:"required"`
	Status      int        `json:"status"`
	RemotePort  int        `json:"remotePort"`
	ExpiredTime *time.Time `json:"expiredTime"`
}

func callerID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-Id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnauthorized, Response{Code: 1, Msg: "missing or invalid X-User-Id"})
		return 0, false
	}
	return id, true
}

func parseProtocol(raw string) (db.Protocol, error) {
	switch db.Protocol(raw) {
	case db.HttpProtocol, db.TlsProtocol:
		return db.Protocol(raw), nil
	default:
		return "", errors.Errorf("unknown protocol %q", raw)
	}
}

// Router builds the gin engine with all tunnel routes registered.
func Router(b *broker.Broker) *gin.Engine {
	r := gin.Default()

	r.POST("/api/add_tunnel", func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		var req addTunnelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{Code: 1, Msg: err.Error()})
			return
		}
		protocol, err := parseProtocol(req.Protocol)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Code: 1, Msg: err.Error()})
			return
		}
		tunnel, err := b.Create(c.Request.Context(), userID, protocol, req.Name, req.SubDomain, req.LocalPort)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{Data: tunnel})
	})

	r.POST("/api/v2/add_tunnel", func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Code: 1, Msg: "invalid user_id"})
			return
		}
		var req adminAddTunnelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{Code: 1, Msg: err.Error()})
			return
		}
		protocol, err := parseProtocol(req.Protocol)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Code: 1, Msg: err.Error()})
			return
		}
		tunnel, err := b.CreateForUser(c.Request.Context(), userID, protocol, req.Name, req.SubDomain,
			req.LocalPort, req.RemotePort, req.ExpiredTime, req.FullURL, req.Metadata)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{Data: tunnel})
	})

	r.POST("/api/edit_tunnel", func(c *gin.Context) {
		tunnelID, err := strconv.ParseInt(c.Query("tunnel_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Code: 1, Msg: "invalid tunnel_id"})
			return
		}
		var req editTunnelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{Code: 1, Msg: err.Error()})
			return
		}
		ok, err := b.Edit(c.Request.Context(), tunnelID, req.Name)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{Data: ok})
	})

	r.GET("/api/tunnels", func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
		tunnels, total, err := b.List(c.Request.Context(), userID, page, limit)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{Count: total, Data: tunnels})
	})

	r.GET("/api/v2/tunnels", func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
		filter := store.TunnelFilter{
			UserName: c.Query("user_name"),
			Email:    c.Query("email"),
		}
		if raw := c.Query("status"); raw != "" {
			status, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, Response{Code: 1, Msg: "invalid status"})
				return
			}
			s := db.Status(status)
			filter.Status = &s
		}
		rows, total, err := b.ListAll(c.Request.Context(), filter, page, limit)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{Count: total, Data: rows})
	})

	r.POST("/api/audit_tunnel", func(c *gin.Context) {
		var req auditTunnelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{Code: 1, Msg: err.Error()})
			return
		}
		ok, err := b.Audit(c.Request.Context(), req.TunnelID, req.UserID,
			db.Status(req.Status), req.RemotePort, req.ExpiredTime)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{Data: ok})
	})

	return r
}
