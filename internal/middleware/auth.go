package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	adapter "github.com/gwatts/gin-adapter"

	"github.com/semanticallynull/cycleshare-backend/internal/auth"
	"github.com/semanticallynull/cycleshare-backend/internal/auth0"
	"github.com/semanticallynull/cycleshare-backend/user"
)

const IdentityKey = "identity"

// Identity is the authenticated caller. Role always comes from the users
// table, never from token claims.
type Identity struct {
	UserID uuid.UUID
	Role   user.Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == user.RoleAdmin
}

type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (user.User, error)
	GetOrCreateByAuth0ID(ctx context.Context, auth0ID string) (user.User, bool, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, email, name, phone string) (user.User, error)
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || tok == "" {
		return "", false
	}
	return tok, true
}

// setIdentity loads the user and rejects deactivated accounts.
func setIdentity(c *gin.Context, users UserStore, id uuid.UUID) bool {
	u, err := users.GetUser(c.Request.Context(), id)
	if errors.Is(err, user.ErrNotFound) || (err == nil && !u.Active) {
		abort(c, http.StatusUnauthorized, "account not found or disabled")
		return false
	}
	if err != nil {
		GetLogger(c).Error("failed to load user", "userId", id, "error", err)
		abort(c, http.StatusInternalServerError, "internal server error")
		return false
	}
	c.Set(IdentityKey, Identity{UserID: u.ID, Role: u.Role})
	return true
}

// LocalAuth validates HS256 tokens issued by /auth/login.
func LocalAuth(tokens *auth.TokenManager, users UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.Request)
		if !ok {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := tokens.Validate(raw)
		if err != nil {
			abort(c, http.StatusUnauthorized, err.Error())
			return
		}
		id, _ := claims.UserID()
		if !setIdentity(c, users, id) {
			return
		}
		c.Next()
	}
}

// Auth0JWT validates RS256 tokens against the tenant's JWKS.
func Auth0JWT(domain, audience string) (gin.HandlerFunc, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, err
	}
	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, err
	}

	mw := jwtmiddleware.New(
		jwtValidator.ValidateToken,
		jwtmiddleware.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			b, _ := json.Marshal(gin.H{"success": false, "message": "invalid or missing token"})
			w.Write(b)
		}),
	)
	return adapter.Wrap(mw.CheckJWT), nil
}

// GetAuth0ID extracts the sub claim stored by the JWT middleware.
func GetAuth0ID(c *gin.Context) (string, bool) {
	claims, ok := c.Request.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !ok || claims.RegisteredClaims.Subject == "" {
		return "", false
	}
	return claims.RegisteredClaims.Subject, true
}

// Auth0Identity maps a validated Auth0 subject onto a local user, creating
// one on first sight and filling its profile from /userinfo.
func Auth0Identity(users UserStore, client auth0.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, ok := GetAuth0ID(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "missing subject claim")
			return
		}
		ctx := c.Request.Context()
		u, created, err := users.GetOrCreateByAuth0ID(ctx, sub)
		if err != nil {
			GetLogger(c).Error("failed to provision user", "auth0Id", sub, "error", err)
			abort(c, http.StatusInternalServerError, "internal server error")
			return
		}
		if created {
			raw, _ := bearerToken(c.Request)
			if info, err := client.GetUserInfo(ctx, raw); err != nil {
				GetLogger(c).Warn("failed to fetch auth0 profile", "auth0Id", sub, "error", err)
			} else if _, err := users.UpdateProfile(ctx, u.ID, info.Email, info.DisplayName(), info.PhoneNumber); err != nil {
				GetLogger(c).Warn("failed to store auth0 profile", "auth0Id", sub, "error", err)
			}
		}
		if !setIdentity(c, users, u.ID) {
			return
		}
		c.Next()
	}
}

func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := GetIdentity(c)
	return id.UserID, ok
}

// RequireRole must run after one of the authentication handlers.
func RequireRole(roles ...user.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "not authenticated")
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "insufficient permissions")
	}
}
