package pgstore

import (
	"context"
	"sync"

	"HProject/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

var (
	poolOnce sync.Once
	pool     *pgxpool.Pool
)

// InitPG 初始化连接池（单例）
func InitPG(ctx context.Context, dsn string) error {
	var initErr error
	poolOnce.Do(func() {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			initErr = errors.WithStack(err)
			return
		}
		if err := p.Ping(ctx); err != nil {
			initErr = errors.WithStack(err)
			return
		}
		pool = p
		logger.Infof("[pgstore] connected")
	})
	return initErr
}

func GetPool() *pgxpool.Pool {
	if pool == nil {
		panic("postgres not initialized, call InitPG first")
	}
	return pool
}

func ClosePG() {
	if pool != nil {
		pool.Close()
	}
}
