package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
	"github.com/semanticallynull/cycleshare-backend/user"
)

var errBadCredentials = apperr.New(apperr.Unauthorized, "invalid email or password")

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required,max=100"`
	Phone    string `json:"phone" binding:"max=30"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func (a *API) registerHandler(c *gin.Context) {
	var req registerRequest
	if !bind(c, &req) {
		return
	}

	hash, err := user.HashPassword(req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	u := user.User{
		Email:        sql.NullString{String: req.Email, Valid: true},
		PasswordHash: sql.NullString{String: hash, Valid: true},
		Name:         req.Name,
		Phone:        req.Phone,
		Role:         user.RoleUser,
	}
	if err := a.users.CreateUser(c.Request.Context(), &u); err != nil {
		fail(c, err)
		return
	}
	middleware.GetLogger(c).Info("user registered", "userId", u.ID)

	a.issueToken(c, http.StatusCreated, u)
}

func (a *API) loginHandler(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}

	u, err := a.users.GetUserByEmail(c.Request.Context(), req.Email)
	if errors.Is(err, user.ErrNotFound) {
		fail(c, errBadCredentials)
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	if !u.Active || !u.CheckPassword(req.Password) {
		fail(c, errBadCredentials)
		return
	}

	a.issueToken(c, http.StatusOK, u)
}

func (a *API) issueToken(c *gin.Context, status int, u user.User) {
	token, expires, err := a.cfg.Tokens.Issue(u.ID, string(u.Role))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, status, tokenResponse{Token: token, ExpiresAt: expires, User: toUserResponse(u)})
}
