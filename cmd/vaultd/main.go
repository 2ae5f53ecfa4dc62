package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kl456123/reward-vault-ton/internal/api"
	"github.com/kl456123/reward-vault-ton/internal/config"
	"github.com/kl456123/reward-vault-ton/internal/engine"
	"github.com/kl456123/reward-vault-ton/internal/ledger"
	"github.com/kl456123/reward-vault-ton/internal/outbox"
	"github.com/kl456123/reward-vault-ton/internal/sigverify"
	"github.com/kl456123/reward-vault-ton/internal/store"
	"github.com/kl456123/reward-vault-ton/internal/vault"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	verifier, genesis, err := genesisFromConfig(cfg.Vault)
	if err != nil {
		log.Fatal("invalid vault config", zap.Error(err))
	}

	// ── Token ledger ──────────────────────────────────────────────────────────
	var (
		tokens    ledger.Ledger
		memTokens *ledger.Memory
		vaultAddr ton.AccountID
	)
	switch cfg.Ledger.Mode {
	case "memory":
		memTokens = ledger.NewMemory()
		tokens = memTokens
		vaultAddr, _ = ton.ParseAccountID(cfg.Vault.Address)
		if genesis.TokenWallet == nil {
			w := memTokens.WalletAddress(vaultAddr)
			genesis.TokenWallet = &w
		}
	default:
		tokens = ledger.NewClient(cfg.Ledger.URL, cfg.Ledger.APIKey)
	}

	// ── Store + settler ───────────────────────────────────────────────────────
	var st engine.Store
	switch cfg.Store.Mode {
	case "memory":
		effects := make(chan vault.Effect, 100)
		st = store.NewMemory(effects)
		go outbox.Drain(ctx, effects, tokens, log)
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
		st = store.NewRedis(rdb, cfg.Redis.Prefix)
		settler := outbox.NewSettler(rdb, tokens, cfg.Redis.Prefix, cfg.Settler.MaxAttempts,
			time.Duration(cfg.Settler.PollTimeoutSec)*time.Second, log)
		go settler.Run(ctx)
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	eng := engine.New(st, verifier, log)
	if err := eng.Init(ctx, genesis); err != nil {
		log.Fatal("vault init failed", zap.Error(err))
	}
	if memTokens != nil {
		memTokens.OnNotify(vaultAddr, eng.Notifier(unixNow))
	}

	// ── gRPC health ───────────────────────────────────────────────────────────
	var gs *grpc.Server
	if cfg.Server.GRPCPort != 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			log.Fatal("gRPC listen failed", zap.Error(err))
		}
		gs = grpc.NewServer()
		hs := health.NewServer()
		healthpb.RegisterHealthServer(gs, hs)
		go watchHealth(ctx, hs, eng.Ready, healthInterval)
		go func() {
			log.Info("gRPC health server starting", zap.Int("port", cfg.Server.GRPCPort))
			if err := gs.Serve(lis); err != nil {
				log.Error("gRPC server error", zap.Error(err))
			}
		}()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := newRouter(eng, memTokens, cfg.Server.HostToken, log)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if gs != nil {
		gs.GracefulStop()
	}
	log.Info("shutdown complete")
}

func unixNow() uint64 { return uint64(time.Now().Unix()) }

const healthInterval = 2 * time.Second

// watchHealth keeps the gRPC serving status in step with ready until ctx is
// done. Readiness drops whenever a commit fails.
func watchHealth(ctx context.Context, hs *health.Server, ready func() bool, every time.Duration) {
	last := servingStatus(ready())
	hs.SetServingStatus("", last)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if st := servingStatus(ready()); st != last {
				hs.SetServingStatus("", st)
				last = st
			}
		}
	}
}

func servingStatus(ready bool) healthpb.HealthCheckResponse_ServingStatus {
	if ready {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// genesisFromConfig parses the vault section into a verifier and genesis state.
func genesisFromConfig(c config.VaultConfig) (sigverify.Verifier, vault.Genesis, error) {
	scheme, err := sigverify.ParseScheme(c.SignatureScheme)
	if err != nil {
		return nil, vault.Genesis{}, err
	}
	verifier, err := sigverify.NewVerifier(scheme)
	if err != nil {
		return nil, vault.Genesis{}, err
	}
	admin, err := ton.ParseAccountID(c.Admin)
	if err != nil {
		return nil, vault.Genesis{}, fmt.Errorf("admin: %w", err)
	}
	key, err := hexutil.Decode(c.SignerPublicKey)
	if err != nil {
		return nil, vault.Genesis{}, fmt.Errorf("signer public key: %w", err)
	}
	if len(key) != verifier.KeySize() {
		return nil, vault.Genesis{}, fmt.Errorf("signer public key: want %d bytes for %s, got %d", verifier.KeySize(), scheme, len(key))
	}
	g := vault.Genesis{
		Admin:          admin,
		SignerKey:      key,
		Timeout:        c.Timeout,
		TimeoutMutable: c.TimeoutMutable,
	}
	if c.TokenWallet != "" {
		w, err := ton.ParseAccountID(c.TokenWallet)
		if err != nil {
			return nil, vault.Genesis{}, fmt.Errorf("token wallet: %w", err)
		}
		g.TokenWallet = &w
	}
	return verifier, g, nil
}

// newRouter mounts /healthz and the /api/v1 routes. tokens is nil unless the
// in-memory ledger is in use.
func newRouter(eng *engine.Engine, tokens *ledger.Memory, hostToken string, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		if !eng.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	v1 := r.Group("/api/v1", api.HostAuth(hostToken))
	api.NewHandler(eng, log).Register(v1)
	if tokens != nil {
		api.NewLedgerHandler(tokens, log).Register(v1)
	}
	return r
}
