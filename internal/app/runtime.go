package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"heirloom/internal/config"
	"heirloom/internal/domain"
	"heirloom/internal/infra/db"
	"heirloom/internal/infra/evidence"
	"heirloom/internal/infra/lock"
	"heirloom/internal/infra/memstore"
	"heirloom/internal/infra/notify"
	"heirloom/internal/infra/policyopa"
	"heirloom/internal/infra/throttle"
	"heirloom/internal/infra/sealer"
	"heirloom/internal/infra/shamir"
	"heirloom/internal/logging"
	"heirloom/internal/usecase"

	"github.com/redis/go-redis/v9"
)

// Runtime is the process-wide infrastructure chosen from config.
type Runtime struct {
	Config   config.Config
	Logger   logging.Logger
	DB       *db.Store
	Redis    *redis.Client
	Store    usecase.Store
	Throttle domain.Throttle
	Services *Services
}

// Open picks every backend from cfg: Postgres or memory storage, redis or in-process
// locks, S3 or memory evidence, redis or log notifications.
func Open(ctx context.Context, cfg config.Config, log logging.Logger) (*Runtime, error) {
	if log == nil {
		log = logging.Nop()
	}
	rt := &Runtime{Config: cfg, Logger: log}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	if cfg.RedisAddr != "" {
		rt.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rt.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	store, err := db.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	if store != nil {
		rt.DB = store
		rt.Store = store
	} else {
		if !isDev(cfg) {
			return nil, errors.New("POSTGRES_DSN is required outside dev")
		}
		rt.Store = memstore.New()
	}

	var locker usecase.SubjectLocker = lock.NewMemory()
	if rt.Redis != nil {
		locker, err = lock.NewRedis(rt.Redis, cfg.LockTTL(), log.With("component", "lock"))
		if err != nil {
			return nil, err
		}
	}

	fragmentSealer, err := newSealer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	evidenceStore, err := newEvidenceStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg, rt.Redis, log)
	if err != nil {
		return nil, err
	}

	var claimRule domain.QuorumRule
	if cfg.QuorumPolicyPath != "" {
		rule, err := policyopa.NewQuorumRuleFromPath(ctx, cfg.QuorumPolicyPath)
		if err != nil {
			return nil, err
		}
		log.Info(ctx, "claim quorum policy loaded", "rule", rule.Name(), "policy_hash", rule.PolicyHash())
		claimRule = rule
	}

	if cfg.RateLimitRequests > 0 {
		if rt.Redis != nil {
			shared, err := throttle.NewRedis(rt.Redis, nil)
			if err != nil {
				return nil, err
			}
			rt.Throttle = shared
		} else {
			rt.Throttle = throttle.NewMemory(cfg.RateLimitMaxKeys, nil)
		}
	}

	rt.Services = NewServices(cfg, Deps{
		Store:     rt.Store,
		Locker:    locker,
		Sharer:    shamir.New(),
		Sealer:    fragmentSealer,
		Evidence:  evidenceStore,
		Notifier:  notifier,
		ClaimRule: claimRule,
		Logger:    log,
	})
	ok = true
	return rt, nil
}

// Ping reports storage health. The memory store is always healthy.
func (rt *Runtime) Ping(ctx context.Context) error {
	if rt.DB != nil {
		if err := rt.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if rt.Redis != nil {
		return rt.Redis.Ping(ctx).Err()
	}
	return nil
}

func (rt *Runtime) Close() error {
	var errs []error
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	return errors.Join(errs...)
}

func newSealer(ctx context.Context, cfg config.Config, log logging.Logger) (*sealer.Sealer, error) {
	key, err := cfg.FragmentMasterKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		if !isDev(cfg) {
			return nil, errors.New("FRAGMENT_MASTER_KEY is required outside dev")
		}
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
		log.Warn(ctx, "FRAGMENT_MASTER_KEY not set; using an ephemeral key, fragments will not survive a restart")
	}
	return sealer.New(key)
}

func newEvidenceStore(ctx context.Context, cfg config.Config) (usecase.EvidenceStore, error) {
	switch strings.ToLower(cfg.EvidenceBackend) {
	case "", "memory":
		return evidence.NewMemory(), nil
	case "s3":
		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return evidence.NewS3FromConfig(loadCtx, cfg)
	default:
		return nil, fmt.Errorf("unsupported EVIDENCE_BACKEND %q", cfg.EvidenceBackend)
	}
}

func newNotifier(cfg config.Config, client *redis.Client, log logging.Logger) (usecase.Notifier, error) {
	switch strings.ToLower(cfg.Notifier) {
	case "", "log":
		return notify.LogNotifier{Logger: log.With("component", "notify")}, nil
	case "redis":
		if client == nil {
			return nil, errors.New("NOTIFIER=redis needs REDIS_ADDR")
		}
		return notify.NewRedisNotifier(client, cfg.NotifyChannel, nil)
	default:
		return nil, fmt.Errorf("unsupported NOTIFIER %q", cfg.Notifier)
	}
}

func isDev(cfg config.Config) bool {
	switch strings.ToLower(cfg.Env) {
	case "", "dev", "development", "test":
		return true
	}
	return false
}
