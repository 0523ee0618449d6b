package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/G-Research/analytics-gateway/internal/gateway/authorization"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/users"
)

type usernameRequest struct {
	Username string `json:"username" binding:"required"`
}

type listUsersRequest struct {
	UserType string `json:"userType" binding:"required"`
}

type createUserRequest struct {
	NewUser *users.NewUserRequest `json:"newUser" binding:"required"`
}

type updateUserRequest struct {
	Username string            `json:"username" binding:"required"`
	Update   domain.UserUpdate `json:"update"`
}

type updateQuotasRequest struct {
	NewQuota *int `json:"newQuota" binding:"required"`
}

func (s *Server) getUser(c *gin.Context) {
	var request usernameRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	user, err := s.users.Get(c.Request.Context(), currentUser(c), request.Username)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) getAllUsers(c *gin.Context) {
	var request listUsersRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	names, err := s.users.List(c.Request.Context(), currentUser(c), request.UserType)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) createUser(c *gin.Context) {
	var request createUserRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	user, err := s.users.Create(c.Request.Context(), currentUser(c), request.NewUser)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) updateUser(c *gin.Context) {
	var request updateUserRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	user, err := s.users.Update(c.Request.Context(), currentUser(c), request.Username, request.Update)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) resetPassword(c *gin.Context) {
	var request usernameRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	token, err := s.users.ResetToken(c.Request.Context(), currentUser(c), request.Username)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"newPassword": token})
}

func (s *Server) deleteUser(c *gin.Context) {
	var request usernameRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.users.Delete(c.Request.Context(), currentUser(c), request.Username); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": fmt.Sprintf("The user %s has been successfully deleted", request.Username)})
}

func (s *Server) getQuota(c *gin.Context) {
	status, err := s.quota.Status(c.Request.Context(), currentUser(c).Username)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) resetUserQuota(c *gin.Context) {
	var request usernameRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := authorization.RequireAdmin(currentUser(c), "reset the quota of "+request.Username); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.quota.Reset(c.Request.Context(), request.Username); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": fmt.Sprintf("The quota for user %s has been successfully reset.", request.Username)})
}

func (s *Server) updateUsersQuotas(c *gin.Context) {
	var request updateQuotasRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := authorization.RequireAdmin(currentUser(c), "update the quota of all users"); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.quota.SetAllotmentForAll(c.Request.Context(), *request.NewQuota); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": fmt.Sprintf("The quota of all users has been set to %d.", *request.NewQuota)})
}
