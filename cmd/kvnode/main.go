// cmd/kvnode is the entrypoint for a single dynamokv replica.
//
// Configuration is entirely via flags so a single binary can serve any
// server id in the cluster.
//
// Example — 3-node cluster, nreplicas=3:
//
//	./kvnode --id 0 --addr :8080 --peers :8080,:8081,:8082 --nreplicas 3
//	./kvnode --id 1 --addr :8081 --peers :8080,:8081,:8082 --nreplicas 3
//	./kvnode --id 2 --addr :8082 --peers :8080,:8081,:8082 --nreplicas 3
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dynamokv/internal/api"
	"dynamokv/internal/clusterconfig"
	"dynamokv/internal/kvserver"
	"dynamokv/internal/logging"
	"dynamokv/internal/placement"
	"dynamokv/internal/rpcx"
)

func main() {
	id := flag.Int("id", 0, "this server's id, an index into --peers")
	addr := flag.String("addr", ":8080", "listen address (host:port)")
	peersFlag := flag.String("peers", ":8080", "comma-separated host:port of every server, in id order")
	nreplicas := flag.Int("nreplicas", 3, "replication degree (preference-list length)")
	peerTimeout := flag.Duration("peer-timeout", 2*time.Second, "timeout for fan-out RPCs to peers")
	dev := flag.Bool("dev", false, "use a human-readable development logger instead of JSON")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger, err := logging.New(*dev, *logLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer logger.Sync()

	addrs := strings.Split(*peersFlag, ",")
	cfg, err := clusterconfig.New(len(addrs), *nreplicas, addrs)
	if err != nil {
		logger.Fatal("invalid cluster config", zap.Error(err))
	}
	if *id < 0 || *id >= cfg.NServers {
		logger.Fatal("id out of range", zap.Int("id", *id), zap.Int("nservers", cfg.NServers))
	}

	table := placement.New(cfg.NServers, cfg.NReplicas)

	peers := make([]rpcx.Endpoint, cfg.NServers)
	for i, peerAddr := range cfg.Addrs {
		if i == *id {
			continue // a server never reaches itself over peers
		}
		peers[i] = rpcx.NewHTTPEndpoint(peerAddr, i, *peerTimeout)
	}

	srv := kvserver.NewServer(*id, table, peers, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(logger), api.Recovery(logger))

	api.NewHandler(srv).Register(router)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": *id, "status": "ok", "nservers": cfg.NServers})
	})

	httpSrv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.Int("id", *id), zap.String("addr", *addr), zap.Int("nreplicas", cfg.NReplicas))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down", zap.Int("id", *id))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
