package api

import (
    "net/http"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/golang-jwt/jwt/v5"

    "github.com/zaqqye/relay/internal/store"
    "github.com/zaqqye/relay/internal/utils"
)

type AuthController struct {
    Store  store.Store
    Secret []byte
    TTL    time.Duration
}

type loginRequest struct {
    Username string `json:"username" binding:"required"`
    Password string `json:"password" binding:"required"`
}

func (a *AuthController) Login(c *gin.Context) {
    var req loginRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    user, err := a.Store.UserByUsername(c.Request.Context(), req.Username)
    if err != nil {
        c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
        return
    }
    if !user.Active || !utils.CheckPassword(user.Password, req.Password) {
        c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
        return
    }

    now := time.Now().UTC()
    claims := Claims{
        UserID:   user.UserID,
        Username: user.Username,
        Role:     user.Role,
        RegisteredClaims: jwt.RegisteredClaims{
            Issuer:    "relay",
            Subject:   user.UserID,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
        },
    }
    token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign token"})
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "access_token": token,
        "token_type":   "Bearer",
        "expires_in":   int(a.TTL.Seconds()),
        "role":         user.Role,
    })
}

func (a *AuthController) Me(c *gin.Context) {
    user := currentUser(c)
    c.JSON(http.StatusOK, gin.H{
        "user_id":    user.UserID,
        "username":   user.Username,
        "full_name":  user.FullName,
        "role":       user.Role,
        "active":     user.Active,
        "created_at": user.CreatedAt,
        "updated_at": user.UpdatedAt,
    })
}
