// Package api serves the operator HTTP API next to the broker's websocket
// endpoint: login, user administration, domain and session introspection,
// token revocation and notification injection.
package api

import (
    "net/http"
    "strings"

    "github.com/gin-gonic/gin"
    "github.com/golang-jwt/jwt/v5"

    "github.com/zaqqye/relay/internal/models"
    "github.com/zaqqye/relay/internal/store"
)

// Claims carried by an operator API token.
type Claims struct {
    UserID   string `json:"user_id"`
    Username string `json:"username"`
    Role     string `json:"role"`
    jwt.RegisteredClaims
}

// AuthMiddleware validates the bearer token and loads the current user.
func AuthMiddleware(st store.Store, secret []byte) gin.HandlerFunc {
    return func(c *gin.Context) {
        auth := c.GetHeader("Authorization")
        if auth == "" || !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
            c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
            return
        }
        tokenStr := strings.TrimSpace(auth[len("Bearer "):])

        claims := &Claims{}
        token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
            return secret, nil
        }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
        if err != nil || !token.Valid {
            c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
            return
        }

        user, err := st.UserByPublicID(c.Request.Context(), claims.UserID)
        if err != nil || !user.Active {
            c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found or inactive"})
            return
        }

        c.Set("user", *user)
        c.Next()
    }
}

// RequireRoles gates a route group to the given roles. Admins pass any gate.
func RequireRoles(roles ...string) gin.HandlerFunc {
    allowed := map[string]struct{}{}
    for _, r := range roles {
        allowed[r] = struct{}{}
    }
    return func(c *gin.Context) {
        uVal, ok := c.Get("user")
        if !ok {
            c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
            return
        }
        user := uVal.(models.User)
        if _, ok := allowed[user.Role]; !ok {
            if user.Role != models.RoleAdmin {
                c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
                return
            }
        }
        c.Next()
    }
}

func currentUser(c *gin.Context) models.User {
    uVal, _ := c.Get("user")
    return uVal.(models.User)
}
