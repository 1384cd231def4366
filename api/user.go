package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
	"github.com/semanticallynull/cycleshare-backend/user"
)

type userResponse struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email,omitempty"`
	Name              string    `json:"name"`
	Phone             string    `json:"phone,omitempty"`
	Role              user.Role `json:"role"`
	Active            bool      `json:"active"`
	HasPaymentAccount bool      `json:"hasPaymentAccount"`
	CreatedAt         time.Time `json:"createdAt"`
}

func toUserResponse(u user.User) userResponse {
	return userResponse{
		ID:                u.ID,
		Email:             u.Email.String,
		Name:              u.Name,
		Phone:             u.Phone,
		Role:              u.Role,
		Active:            u.Active,
		HasPaymentAccount: u.StripeID.Valid,
		CreatedAt:         u.CreatedAt,
	}
}

func (a *API) meHandler(c *gin.Context) {
	u, err := a.users.GetUser(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toUserResponse(u))
}

type profileRequest struct {
	Email string `json:"email" binding:"omitempty,email"`
	Name  string `json:"name" binding:"required,max=100"`
	Phone string `json:"phone" binding:"max=30"`
}

func (a *API) updateMeHandler(c *gin.Context) {
	var req profileRequest
	if !bind(c, &req) {
		return
	}
	u, err := a.users.UpdateProfile(c.Request.Context(), currentUser(c), req.Email, req.Name, req.Phone)
	if err != nil {
		fail(c, err)
		return
	}
	okMessage(c, "profile updated", toUserResponse(u))
}

type userListQuery struct {
	pageQuery
	Role   string `form:"role" binding:"omitempty,oneof=user admin"`
	Active *bool  `form:"active"`
}

func (a *API) listUsersHandler(c *gin.Context) {
	var q userListQuery
	if !bindQuery(c, &q) {
		return
	}
	page := q.request()
	users, total, err := a.users.GetUsers(c.Request.Context(), user.Filter{Role: user.Role(q.Role), Active: q.Active}, page)
	if err != nil {
		fail(c, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	okPage(c, resp, page.Meta(total))
}

func (a *API) userHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	u, err := a.users.GetUser(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, toUserResponse(u))
}

type roleRequest struct {
	Role string `json:"role" binding:"required,oneof=user admin"`
}

func (a *API) setRoleHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req roleRequest
	if !bind(c, &req) {
		return
	}
	u, err := a.users.SetRole(c.Request.Context(), id, user.Role(req.Role))
	if err != nil {
		fail(c, err)
		return
	}
	middleware.GetLogger(c).Info("user role changed", "userId", id, "role", u.Role)
	okMessage(c, "role updated", toUserResponse(u))
}

func (a *API) deleteUserHandler(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := a.users.DeleteUser(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	middleware.GetLogger(c).Info("user deactivated", "userId", id)
	okMessage(c, "user deactivated", nil)
}
