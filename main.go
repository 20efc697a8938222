package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "HProject/global/config"
	"HProject/logger"
	midsec "HProject/middleware/security"
	"HProject/module/coord"
	"HProject/module/message/flow"
	msgapi "HProject/module/message/service"
	kafka "HProject/service/kafka"
	"HProject/service/natsx"
	"HProject/service/stream"
	"HProject/tools/safe"

	"github.com/gin-gonic/gin"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config.ConfigAll(ctx)

	// flow 节点只跑 kafka 消费管道
	if config.Global.NodeType == config.NodeTypeFlowNode {
		runFlowNode(ctx)
		return
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// 事件流网关
	hub := stream.NewHub()
	sse := stream.NewServer(hub)
	if natsx.Initialized() {
		if err := hub.StartBusFeed(); err != nil {
			logger.Errorf("bus feed start failed: %v", err)
		}
	} else {
		logger.Warnf("nats unavailable, gateway will not receive bus events")
	}
	streamAuth := midsec.Middleware(midsec.DefaultOptions())
	r.GET("/api/realtime/:tenantID", streamAuth, sse.HandleSSE)
	r.GET("/api/realtime/:tenantID/ws", streamAuth, sse.HandleWS)

	// 消息命令面
	msgapi.RegisterRoutes(r)

	// 协调对象路由
	coordRouter := coord.NewRouter(coord.NewRegistry())
	coordRouter.RegisterRoutes(r)

	// API 节点同时跑一份消费管道（单机部署省掉独立 flow 节点）
	if kafka.Initialized() {
		flow.Register()
		safe.Go("kafka.consumer", func() {
			err := kafka.StartConsumerGroup(ctx, config.Global.KafkaBrokers,
				config.Global.GroupId, []string{kafka.TopicMessageIngest})
			if err != nil {
				logger.Errorf("consumer group exited: %v", err)
			}
		})
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Global.Port),
		Handler: r,
	}
	safe.Go("http.server", func() {
		logger.Infof("harbor api listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server error: %v", err)
		}
	})

	waitSignal()
	logger.Infof("shutting down")
	cancel()
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	if natsx.Initialized() {
		_ = natsx.Manager().Close()
	}
}

func runFlowNode(ctx context.Context) {
	if !kafka.Initialized() {
		logger.Errorf("flow node requires kafka")
		os.Exit(1)
	}
	flow.Register()
	safe.Go("kafka.consumer", func() {
		err := kafka.StartConsumerGroup(ctx, config.Global.KafkaBrokers,
			config.Global.GroupId, []string{kafka.TopicMessageIngest})
		if err != nil {
			logger.Errorf("consumer group exited: %v", err)
		}
	})
	logger.Infof("harbor flow node running")
	waitSignal()
}

func waitSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
