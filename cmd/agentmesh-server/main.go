package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agentmesh/agentmesh/cmd/agentmesh-server/agent"
	"github.com/agentmesh/agentmesh/config"
	"github.com/agentmesh/agentmesh/server"
	"github.com/agentmesh/agentmesh/storage"
	"github.com/agentmesh/agentmesh/transport"
)

func main() {
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := loggerConfig.Build()
	defer logger.Sync()

	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	listenAddr := flag.String("listen", "", "Address and port to listen on; applies only without -config (a YAML config's listen address is not overridden)")
	dataDir := flag.String("data-dir", "", "Directory for the BoltDB task store; empty keeps tasks in memory")
	flag.Parse()

	var cfg config.Config
	if *configPath != "" {
		yamlCfg, err := config.NewYamlConfig(*configPath, logger)
		if err != nil {
			logger.Fatal("Failed to load config", zap.Error(err))
		}
		if err := yamlCfg.StartReloading(); err != nil {
			logger.Warn("Config hot reload unavailable", zap.Error(err))
		}
		cfg = yamlCfg
	} else {
		internal := config.NewInternalConfig()
		internal.ServerNameValue = "AgentMesh Echo Agent"
		internal.ServerVersionValue = "1.0.0"
		cfg = internal
	}
	defer cfg.Close()
	if *listenAddr != "" {
		if internal, ok := cfg.(*config.InternalConfig); ok {
			internal.ListenAddrValue = *listenAddr
		}
	}

	addr, err := cfg.ListenAddr()
	if err != nil {
		logger.Fatal("Failed to resolve listen address", zap.Error(err))
	}
	agentURL := fmt.Sprintf("http://localhost%s", addr)
	card, err := cfg.AgentCard(agentURL)
	if err != nil {
		logger.Fatal("Failed to build agent card", zap.Error(err))
	}

	var handlerOptions []server.HandlerOption
	if *dataDir != "" {
		boltStore, err := storage.NewBoltTaskStore(*dataDir)
		if err != nil {
			logger.Fatal("Failed to open task store", zap.Error(err))
		}
		defer boltStore.Close()
		handlerOptions = append(handlerOptions,
			server.WithTaskStore(boltStore),
			server.WithPushConfigStore(boltStore.PushConfigStore()))
	}

	handler := server.NewDefaultRequestHandler(logger, card, agent.New(logger), handlerOptions...)

	var throttle *transport.Throttle
	if rps, err := cfg.RateLimitRPS(); err == nil && rps > 0 {
		burst, _ := cfg.RateLimitBurst()
		throttle = transport.NewThrottle(logger, rps, burst)
	}
	mux := transport.NewMux(logger, handler, throttle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting A2A server", zap.String("address", addr))
	httpServer, err := transport.NewServer(ctx, logger, cfg, mux)
	if err != nil {
		logger.Fatal("Failed to configure server", zap.Error(err))
	}
	errChan := httpServer.Start()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signalCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			logger.Error("Server listener error", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("Server stopped")
}
