package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/learningequality/studio-sub002/internal/repos"
	"github.com/learningequality/studio-sub002/internal/requestdata"
)

type UserHandler struct {
	users repos.UserRepo
}

func NewUserHandler(users repos.UserRepo) *UserHandler {
	return &UserHandler{users: users}
}

func (uh *UserHandler) GetMe(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	me, err := uh.users.GetByID(c.Request.Context(), nil, rd.UserID)
	if err != nil || me == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown user"})
		return
	}
	me.Password = ""
	c.JSON(http.StatusOK, gin.H{"me": me})
}
