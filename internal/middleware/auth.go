package middleware

import (
	stderrors "errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/handler"
	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
)

// Claims carried by access tokens. Tokens are issued elsewhere; this service
// only verifies them.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthMiddleware(secret, issuer string) *AuthMiddleware {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &AuthMiddleware{
		secret: []byte(secret),
		parser: jwt.NewParser(opts...),
	}
}

// Authenticate verifies the bearer token and stores the caller as a
// model.Actor in the gin context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handler.Fail(c, errors.Unauthorized(stderrors.New("missing authorization header")))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			handler.Fail(c, errors.Unauthorized(stderrors.New("invalid authorization format")))
			return
		}

		actor, err := m.ParseToken(parts[1])
		if err != nil {
			handler.Fail(c, errors.Unauthorized(err))
			return
		}

		handler.SetActor(c, actor)
		c.Next()
	}
}

// ParseToken validates a signed token and extracts the actor from its sub
// and role claims.
func (m *AuthMiddleware) ParseToken(raw string) (model.Actor, error) {
	var claims Claims
	_, err := m.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return model.Actor{}, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.Actor{}, stderrors.New("subject is not a valid id")
	}
	if !claims.Role.Valid() {
		return model.Actor{}, stderrors.New("unknown role")
	}
	return model.Actor{ID: id, Role: claims.Role}, nil
}
