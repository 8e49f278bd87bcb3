package api

import (
    "time"

    "github.com/gin-gonic/gin"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/zaqqye/relay/internal/broker"
    "github.com/zaqqye/relay/internal/models"
    "github.com/zaqqye/relay/internal/store"
)

// Deps carries everything the API routes need.
type Deps struct {
    Store    store.Store
    Broker   *broker.Broker
    Secret   []byte
    TokenTTL time.Duration
}

// Register wires the websocket endpoint, the operator API and the
// unauthenticated health and metrics endpoints onto the engine.
func Register(r *gin.Engine, deps Deps) {
    authCtrl := &AuthController{Store: deps.Store, Secret: deps.Secret, TTL: deps.TokenTTL}
    adminCtrl := &AdminController{Store: deps.Store}
    brokerCtrl := &BrokerController{Broker: deps.Broker, Store: deps.Store}

    r.GET("/ws", broker.Handler(deps.Broker))
    r.GET("/healthz", brokerCtrl.Health)
    r.GET("/metrics", gin.WrapH(promhttp.Handler()))

    // Public
    auth := r.Group("/api/v1/auth")
    {
        auth.POST("/login", authCtrl.Login)
    }

    // Protected
    authMW := AuthMiddleware(deps.Store, deps.Secret)
    api := r.Group("/api/v1", authMW)
    {
        api.GET("/auth/me", authCtrl.Me)

        // Admin-only
        admin := api.Group("/admin", RequireRoles(models.RoleAdmin))
        {
            admin.GET("/users", adminCtrl.ListUsers)
            admin.POST("/users", adminCtrl.CreateUser)
            admin.GET("/users/:user_id", adminCtrl.GetUser)
            admin.PUT("/users/:user_id", adminCtrl.UpdateUser)
            admin.DELETE("/users/:user_id", adminCtrl.DeleteUser)

            admin.GET("/domains", brokerCtrl.Domains)
            admin.GET("/sessions", brokerCtrl.Sessions)
            admin.POST("/tokens/:jti/revoke", brokerCtrl.RevokeToken)
            admin.POST("/notify", brokerCtrl.Notify)
        }
    }
}
