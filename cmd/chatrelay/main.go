package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pocketomega/chatrelay/internal/approval"
	"github.com/pocketomega/chatrelay/internal/config"
	"github.com/pocketomega/chatrelay/internal/mcp"
	"github.com/pocketomega/chatrelay/internal/orchestrator"
	"github.com/pocketomega/chatrelay/internal/secret"
	"github.com/pocketomega/chatrelay/internal/store"
	"github.com/pocketomega/chatrelay/internal/store/postgres"
	"github.com/pocketomega/chatrelay/internal/tooldef"
	"github.com/pocketomega/chatrelay/internal/upstream"
	"github.com/pocketomega/chatrelay/internal/web"
)

func main() {
	config.LoadEnv()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// The three long-lived singletons: persistence handle, secret key,
	// session registry. Everything else is constructed around them.
	pgCfg := postgres.DefaultConfig()
	pgCfg.Host = cfg.Database.Host
	pgCfg.Port = cfg.Database.Port
	pgCfg.User = cfg.Database.User
	pgCfg.Password = cfg.Database.Password
	pgCfg.Database = cfg.Database.Name
	pgCfg.SSLMode = cfg.Database.SSLMode

	var db *postgres.Store
	if cfg.Database.DSN != "" {
		db, err = postgres.NewFromDSN(cfg.Database.DSN, pgCfg)
	} else {
		db, err = postgres.New(pgCfg)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer db.Close()

	crypter, err := secret.NewAESGCM([]byte(cfg.Secret.EncryptionKey))
	if err != nil {
		log.Fatal().Err(err).Msg("secret key invalid")
	}

	registry := mcp.NewRegistry(
		mcp.NewStoreLookup(db, crypter),
		cfg.MCP.InitializationTimeout,
		cfg.MCP.OperationTimeout,
		cfg.MCP.IdleTimeout,
	)
	defer registry.CloseAll()

	facade := mcp.NewFacade(registry, cfg.MCP.OperationTimeout)
	syncer := mcp.NewSyncer(db, facade, registry, cfg.Orchestrator.MaxRetries, cfg.Orchestrator.RetryBackoffBase, cfg.MCP.CacheTTL)

	policies := approval.NewService(db)
	tools := tooldef.NewProvider(db, policies)

	seedServers(db, crypter)

	upstreamClient := upstream.NewClient(cfg.Upstream.BaseURL, 30*time.Second)
	orch := orchestrator.New(db, upstreamClient, facade, tools, cfg.Orchestrator.ToolExecutionTimeout)

	server := web.NewServer(
		cfg.Web.Addr(),
		web.NewResponsesHandler(orch, cfg.Upstream.APIKey),
		web.NewServersHandler(db, db, syncer, registry, crypter),
		web.NewPoliciesHandler(policies),
	)

	log.Info().
		Str("upstream", cfg.Upstream.BaseURL).
		Str("model", cfg.Upstream.DefaultModel).
		Msg("chatrelay starting")

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// seedServers creates the MCP servers declared in the optional
// MCP_SERVERS_FILE seed file (default mcp-servers.yaml), so a fresh
// deployment starts with its tool providers registered. Existing rows are
// left alone.
func seedServers(db *postgres.Store, crypter *secret.AESGCM) {
	path := os.Getenv("MCP_SERVERS_FILE")
	if path == "" {
		path = "mcp-servers.yaml"
	}
	seeds, err := config.LoadServerSeeds(path)
	if err != nil {
		log.Warn().Err(err).Msg("server seeds skipped")
		return
	}

	ctx := context.Background()
	for _, seed := range seeds {
		if _, err := db.GetServer(ctx, seed.ServerID); err == nil {
			continue
		}
		var keyEnc []byte
		if seed.APIKey != "" {
			keyEnc, err = crypter.Encrypt(ctx, []byte(seed.APIKey))
			if err != nil {
				log.Warn().Str("server_id", seed.ServerID).Err(err).Msg("seed key encrypt failed")
				continue
			}
		}
		transport := store.McpTransport(seed.Transport)
		if transport != store.TransportStreamableHTTP {
			transport = store.TransportSSE
		}
		if _, err := db.CreateServer(ctx, &store.McpServer{
			ServerID:   seed.ServerID,
			Name:       seed.Name,
			BaseURL:    seed.BaseURL,
			APIKeyEnc:  keyEnc,
			Transport:  transport,
			Status:     store.ServerIdle,
			SyncStatus: store.SyncNeverSynced,
		}); err != nil {
			log.Warn().Str("server_id", seed.ServerID).Err(err).Msg("seed create failed")
			continue
		}
		log.Info().Str("server_id", seed.ServerID).Msg("seeded mcp server")
	}
}
