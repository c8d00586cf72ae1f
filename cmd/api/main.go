package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"saltapi/internal/auth"
	"saltapi/internal/authz"
	"saltapi/internal/backend"
	"saltapi/internal/config"
	"saltapi/internal/httpapi"
	"saltapi/internal/obs"
	"saltapi/internal/status"
	"saltapi/internal/stream"
	"saltapi/internal/submission"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("SALTAPI_CONFIG"), "Path to YAML config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	stores, err := backend.Open(openCtx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer stores.Close()

	tokens, err := auth.NewTokens(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}
	authSvc, err := auth.NewService(stores.Identity, tokens, auth.WithAccessTTL(cfg.Auth.TokenTTL))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	authzSvc := authz.NewService(
		authz.NewResolver(authz.NewPredicates(stores.Identity)),
		authz.NewAuthorizer(cfg.TrustedPrefixes()),
	)

	var submitter httpapi.Submitter
	if cfg.Submission.URL != "" {
		client, err := submission.New(cfg.Submission.URL, cfg.Submission.Timeout)
		if err != nil {
			log.Fatalf("submission client: %v", err)
		}
		submitter = client
	} else {
		obs.Warn("submission service not configured, POST /submissions disabled", nil)
	}

	events := stream.New()
	probe := httpapi.ReadyProbe{Dependencies: stores.Dependencies()}
	api, err := httpapi.New(probe, version, httpapi.Services{
		Auth:        authSvc,
		Authz:       authzSvc,
		Identity:    stores.Identity,
		Status:      status.NewService(stores.Status, status.WithPublisher(events)),
		Submissions: submitter,
		Events:      events,
	},
		httpapi.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithTrustForwardedFor(cfg.TrustForwardedFor),
	)
	if err != nil {
		log.Fatalf("http api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(probe)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	go health.Run(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.Info("salt-api started", map[string]any{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
	})

	<-ctx.Done()
	obs.Info("shutting down", nil)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	obs.Info("stopped", nil)
}
