package mgo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"HProject/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Config struct {
	Uri         string
	Database    string
	Username    string
	Password    string
	MaxPoolSize uint64
}

type MongoManager struct {
	mu        sync.RWMutex
	client    *mongo.Client
	database  string
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr = &MongoManager{readyCh: make(chan struct{})}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，掉线自动重连
func StartAsync(ctx context.Context, cfg *Config) {
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second
		)

		backoff := baseBackoff
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			cli, err := connect(ctx, cfg)
			if err != nil {
				globalMgr.lastErr.Store(err)
				logger.Warnf("[mgo] connect failed, retry in %v: %v", backoff, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			globalMgr.mu.Lock()
			globalMgr.client = cli
			globalMgr.database = cfg.Database
			globalMgr.mu.Unlock()
			globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
			logger.Infof("[mgo] connected uri=%s db=%s", cfg.Uri, cfg.Database)
			backoff = baseBackoff

			// ===== 健康检查阶段 =====
			tick := time.NewTicker(healthEvery)
			healthy := true
			for healthy {
				select {
				case <-ctx.Done():
					tick.Stop()
					_ = cli.Disconnect(context.Background())
					return
				case <-tick.C:
					pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
					err := cli.Ping(pctx, readpref.Primary())
					cancel()
					if err != nil {
						logger.Warnf("[mgo] ping failed, reconnecting: %v", err)
						_ = cli.Disconnect(context.Background())
						healthy = false
					}
				}
			}
			tick.Stop()
		}
	}()
}

func connect(ctx context.Context, cfg *Config) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.Uri)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cli, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(cctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

// WaitReady 等待首次连接成功（启动期用）
func WaitReady(ctx context.Context) error {
	select {
	case <-globalMgr.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetDB 获取当前数据库句柄
func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		panic("mongo not initialized, call StartAsync first")
	}
	return globalMgr.client.Database(globalMgr.database)
}
