package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
	"github.com/semanticallynull/cycleshare-backend/internal/middleware"
	"github.com/semanticallynull/cycleshare-backend/internal/paging"
)

type envelope struct {
	Success    bool                `json:"success"`
	Data       any                 `json:"data,omitempty"`
	Message    string              `json:"message,omitempty"`
	Errors     []apperr.FieldError `json:"errors,omitempty"`
	Pagination *paging.Meta        `json:"pagination,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func okPage(c *gin.Context, data any, meta paging.Meta) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Pagination: &meta})
}

func okMessage(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Message: msg, Data: data})
}

// fail renders err with the status of its kind. Unclassified errors are
// logged and hidden from the caller.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	resp := envelope{Message: err.Error()}

	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		resp.Message = "validation failed"
		resp.Errors = ve.Fields
	}
	if kind == apperr.Internal {
		middleware.GetLogger(c).ErrorContext(c.Request.Context(), "request failed", "error", err)
		resp.Message = "internal server error"
	}
	c.AbortWithStatusJSON(kind.HTTPStatus(), resp)
}

// bind decodes the JSON body into req, writing a validation response and
// returning false when it is malformed.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, bindError(err))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		fail(c, bindError(err))
		return false
	}
	return true
}

func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &apperr.ValidationError{Fields: []apperr.FieldError{{Field: "body", Message: "malformed request"}}}
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fieldPath(fe), Message: fieldMessage(fe)})
	}
	return &apperr.ValidationError{Fields: fields}
}

// fieldPath drops the request struct name from the namespace, so nested
// fields read as "feedback.rating".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, found := strings.Cut(ns, "."); found {
		return rest
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "uuid":
		return "must be a valid id"
	case "min":
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "latitude", "longitude":
		return "must be a valid " + fe.Tag()
	}
	return "is invalid"
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		fail(c, apperr.Invalid(name, "must be a valid id"))
		return uuid.Nil, false
	}
	return id, true
}

type pageQuery struct {
	Page  int `form:"page" binding:"omitempty,min=1"`
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (q pageQuery) request() paging.Request {
	return paging.New(q.Page, q.Limit)
}

// currentUser returns the authenticated caller's id. Routes using it are
// always mounted behind authentication.
func currentUser(c *gin.Context) uuid.UUID {
	id, _ := middleware.GetUserID(c)
	return id
}
