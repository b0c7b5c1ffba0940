package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// Check reports whether one dependency is reachable.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type HealthHandler struct {
	checks []Check
}

func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func PostgresCheck(pool *pgxpool.Pool) Check {
	return Check{Name: "postgres", Ping: pool.Ping}
}

func RedisCheck(client *redis.Client) Check {
	return Check{Name: "redis", Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
}

func RabbitMQCheck(conn *amqp.Connection) Check {
	return Check{Name: "rabbitmq", Ping: func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{"status": "ok"}
	for _, chk := range h.checks {
		if err := chk.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", chk.Name: "unavailable"})
			return
		}
		resp[chk.Name] = "connected"
	}
	c.JSON(http.StatusOK, resp)
}
