package api

import (
    "errors"
    "net/http"

    "github.com/gin-gonic/gin"

    "github.com/zaqqye/relay/internal/broker"
    "github.com/zaqqye/relay/internal/protocol"
    "github.com/zaqqye/relay/internal/store"
    "github.com/zaqqye/relay/internal/utils"
)

type BrokerController struct {
    Broker *broker.Broker
    Store  store.Store
}

// Domains lists every registered domain with its instance count.
func (b *BrokerController) Domains(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{"domains": b.Broker.Domains()})
}

// Sessions lists every live websocket session.
func (b *BrokerController) Sessions(c *gin.Context) {
    sessions := b.Broker.Sessions()
    c.JSON(http.StatusOK, gin.H{"total": len(sessions), "sessions": sessions})
}

// RevokeToken revokes a registration token by its jti. Transmit rejects
// revoked tokens even before they expire.
func (b *BrokerController) RevokeToken(c *gin.Context) {
    jti := c.Param("jti")
    if err := b.Store.RevokeToken(c.Request.Context(), jti); err != nil {
        if errors.Is(err, store.ErrNotFound) {
            c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
            return
        }
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, gin.H{"message": "revoked"})
}

type notifyRequest struct {
    Domain string   `json:"domain" binding:"required"`
    Type   string   `json:"type" binding:"required"`
    Args   []string `json:"args"`
}

// Notify fans a notification out to every instance of a domain on behalf of
// the operator.
func (b *BrokerController) Notify(c *gin.Context) {
    var req notifyRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    args := make([][]byte, 0, len(req.Args))
    for _, a := range req.Args {
        args = append(args, []byte(a))
    }
    source := protocol.UserDomain(currentUser(c).Username)
    delivered := b.Broker.Notify(req.Domain, source, req.Type, args)
    c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// Health reports liveness plus basic broker statistics.
func (b *BrokerController) Health(c *gin.Context) {
    sessions, domains := b.Broker.Stats()
    c.JSON(http.StatusOK, gin.H{
        "status":   "ok",
        "sessions": sessions,
        "domains":  domains,
        "version":  utils.BuildVersion(),
    })
}
