package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/teleconsult-api/internal/model"
	"github.com/jwalitptl/teleconsult-api/pkg/errors"
)

// ContextActor is the gin context key holding the authenticated model.Actor.
const ContextActor = "actor"

func SetActor(c *gin.Context, actor model.Actor) {
	c.Set(ContextActor, actor)
}

// CurrentActor returns the caller set by the auth middleware.
func CurrentActor(c *gin.Context) (model.Actor, error) {
	v, ok := c.Get(ContextActor)
	if !ok {
		return model.Actor{}, errors.Unauthorized(nil)
	}
	actor, ok := v.(model.Actor)
	if !ok {
		return model.Actor{}, errors.Unauthorized(nil)
	}
	return actor, nil
}

// ParamUUID parses a path parameter as a UUID.
func ParamUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, errors.BadRequest("invalid "+name, err)
	}
	return id, nil
}

// Fail hands err to the error middleware and stops the chain.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// BindFailed wraps a request binding error.
func BindFailed(c *gin.Context, err error) {
	Fail(c, errors.BadRequest("invalid request body", err))
}
