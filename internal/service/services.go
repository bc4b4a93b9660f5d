package service

import (
	"log/slog"

	"github.com/prasetyo/tiketin/internal/midtrans"
	postgres "github.com/prasetyo/tiketin/internal/repository/postgres"
	redis "github.com/prasetyo/tiketin/internal/repository/redis"
	"github.com/prasetyo/tiketin/internal/service/admin"
	"github.com/prasetyo/tiketin/internal/service/order"
	"github.com/prasetyo/tiketin/internal/service/query"
	"github.com/prasetyo/tiketin/internal/service/reconcile"
)

type Services struct {
	Order     *order.Service
	Reconcile *reconcile.Service
	Query     *query.Service
	Admin     *admin.Service
}

type Config struct {
	Order order.Config
	Query query.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	pubsub *redis.EventsPubSub,
	limiter *redis.SlidingWindowLimiter,
	gateway *midtrans.Client,
	verifier *midtrans.Verifier,
	logger *slog.Logger,
	cfg Config,
) *Services {
	return &Services{
		Order:     order.New(store.Orders(), store.Users(), gateway, cache, pubsub, limiter, logger, cfg.Order),
		Reconcile: reconcile.New(store.Orders(), verifier, cache, pubsub, logger),
		Query:     query.New(store, cache, cfg.Query),
		Admin:     admin.New(store, cache, pubsub),
	}
}
