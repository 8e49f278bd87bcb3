package api

import (
    "errors"
    "net/http"
    "strings"

    "github.com/gin-gonic/gin"
    "github.com/google/uuid"

    "github.com/zaqqye/relay/internal/models"
    "github.com/zaqqye/relay/internal/store"
    "github.com/zaqqye/relay/internal/utils"
)

type AdminController struct {
    Store store.Store
}

func isValidRole(role string) bool {
    return role == models.RoleAdmin || role == models.RoleUser
}

func userJSON(u *models.User) gin.H {
    return gin.H{
        "user_id":    u.UserID,
        "username":   u.Username,
        "full_name":  u.FullName,
        "role":       u.Role,
        "active":     u.Active,
        "created_at": u.CreatedAt,
        "updated_at": u.UpdatedAt,
    }
}

type createUserRequest struct {
    Username string `json:"username" binding:"required"`
    FullName string `json:"full_name"`
    Password string `json:"password" binding:"required,min=6"`
    Role     string `json:"role"`
    Active   *bool  `json:"active"`
}

func (a *AdminController) CreateUser(c *gin.Context) {
    var req createUserRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    role := req.Role
    if role == "" {
        role = models.RoleUser
    }
    if !isValidRole(role) {
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
        return
    }

    active := true
    if req.Active != nil {
        active = *req.Active
    }

    pw, err := utils.HashPassword(req.Password)
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
        return
    }

    user := models.User{
        UserID:   uuid.NewString(),
        Username: req.Username,
        FullName: req.FullName,
        Password: pw,
        Role:     role,
        Active:   active,
    }
    if err := a.Store.CreateUser(c.Request.Context(), &user); err != nil {
        if errors.Is(err, store.ErrDuplicate) {
            c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
            return
        }
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }

    c.JSON(http.StatusCreated, userJSON(&user))
}

func (a *AdminController) ListUsers(c *gin.Context) {
    users, err := a.Store.ListUsers(c.Request.Context())
    if err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }

    role := strings.TrimSpace(strings.ToLower(c.Query("role")))
    if role != "" && !isValidRole(role) {
        c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
        return
    }

    out := make([]gin.H, 0, len(users))
    for i := range users {
        if role != "" && users[i].Role != role {
            continue
        }
        out = append(out, userJSON(&users[i]))
    }
    c.JSON(http.StatusOK, gin.H{"total": len(out), "users": out})
}

func (a *AdminController) GetUser(c *gin.Context) {
    user, err := a.Store.UserByPublicID(c.Request.Context(), c.Param("user_id"))
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
            return
        }
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, userJSON(user))
}

type updateUserRequest struct {
    FullName *string `json:"full_name"`
    Password *string `json:"password"`
    Role     *string `json:"role"`
    Active   *bool   `json:"active"`
}

func (a *AdminController) UpdateUser(c *gin.Context) {
    var req updateUserRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    user, err := a.Store.UserByPublicID(c.Request.Context(), c.Param("user_id"))
    if err != nil {
        if errors.Is(err, store.ErrNotFound) {
            c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
            return
        }
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }

    if req.FullName != nil {
        user.FullName = *req.FullName
    }
    if req.Password != nil {
        if len(*req.Password) < utils.MinPasswordLength {
            c.JSON(http.StatusBadRequest, gin.H{"error": "password too short"})
            return
        }
        pw, err := utils.HashPassword(*req.Password)
        if err != nil {
            c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
            return
        }
        user.Password = pw
    }
    if req.Role != nil {
        if !isValidRole(*req.Role) {
            c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
            return
        }
        user.Role = *req.Role
    }
    if req.Active != nil {
        user.Active = *req.Active
    }

    if err := a.Store.UpdateUser(c.Request.Context(), user); err != nil {
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, userJSON(user))
}

func (a *AdminController) DeleteUser(c *gin.Context) {
    userID := c.Param("user_id")
    if currentUser(c).UserID == userID {
        c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete your own account"})
        return
    }

    if err := a.Store.DeleteUser(c.Request.Context(), userID); err != nil {
        if errors.Is(err, store.ErrNotFound) {
            c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
            return
        }
        c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
        return
    }
    c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}
