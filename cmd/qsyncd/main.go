package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quakesync/server/internal/config"
	"github.com/quakesync/server/internal/core/event"
	coresys "github.com/quakesync/server/internal/core/system"
	"github.com/quakesync/server/internal/data"
	gonet "github.com/quakesync/server/internal/net"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/persist"
	"github.com/quakesync/server/internal/scripting"
	"github.com/quakesync/server/internal/server"
	"github.com/quakesync/server/internal/system"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(hostname string, protocol int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             QuakeSync  v1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       frame state sync · Go server        \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mhost:\033[0m %s \033[90m(protocol %d, %s)\033[0m\n\n", hostname, protocol, packet.ProtocolName(protocol))
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("QSYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Hostname, cfg.Protocol.Version)

	// 3. Optional PostgreSQL store for spawn parms and net statistics
	var (
		parmRepo  *persist.SpawnParmRepo
		statsRepo *persist.NetStatsRepo
	)
	if cfg.Database.Enabled {
		printSection("database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		if err := persist.RunMigrations(ctx, db.Pool, log); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
		fmt.Println()

		parmRepo = persist.NewSpawnParmRepo(db)
		statsRepo = persist.NewNetStatsRepo(db)
	}

	// 4. Levels and rules
	printSection("data")
	levels := data.LevelDir{Dir: cfg.Server.MapDir}
	names, err := levels.Names()
	if err != nil {
		return fmt.Errorf("list levels: %w", err)
	}
	printStat("levels", len(names))

	rules, err := scripting.NewEngine(cfg.Scripting, cfg.World, log)
	if err != nil {
		return fmt.Errorf("scripting engine: %w", err)
	}
	defer rules.Close()
	printStat("custom stats", len(rules.CustomStats()))
	printOK("Lua rules loaded")
	fmt.Println()

	// 5. Server and level
	bus := event.NewBus()
	opts := []server.Option{server.WithEventBus(bus)}
	if parmRepo != nil {
		opts = append(opts, server.WithSpawnParmStore(parmRepo))
	}
	sv, err := server.New(serverOptions(cfg), rules, levels, log, opts...)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := sv.SpawnServer(cfg.Server.Map); err != nil {
		return err
	}
	subscribeEvents(bus, log)

	// 6. Create network transport
	transport, err := gonet.NewStreamTransport(cfg.Network.BindAddress, gonet.StreamOptions{
		InQueueSize:      cfg.Network.InQueueSize,
		OutQueueSize:     cfg.Network.OutQueueSize,
		MaxPacketsPerSec: cfg.Network.MaxPacketsPerSec,
		HelloTimeout:     cfg.Network.HelloTimeout,
		WriteTimeout:     cfg.Network.WriteTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("net transport: %w", err)
	}
	go transport.AcceptLoop()
	sv.AddTransport(transport)

	// 7. Create systems and register with runner
	runner := coresys.NewRunner()
	runner.Register(system.NewInputSystem(sv))
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewSimulationSystem(sv))
	runner.Register(system.NewOutputSystem(sv))
	runner.Register(system.NewCleanupSystem(sv, log))
	var persistSys *system.PersistenceSystem
	if statsRepo != nil {
		interval := int(cfg.Database.StatsInterval / cfg.Network.TickRate)
		persistSys = system.NewPersistenceSystem(sv, statsRepo, log, interval)
		runner.Register(persistSys)
	}

	// 8. Start frame loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	// A nil channel never fires, which disables polling.
	var pollC <-chan time.Time
	if cfg.Network.InputPoll > 0 {
		poll := time.NewTicker(cfg.Network.InputPoll)
		defer poll.Stop()
		pollC = poll.C
	}

	printSection("ready")
	printReady(fmt.Sprintf("listening on %s", transport.Addr().String()))
	printReady(fmt.Sprintf("level %s (%d signon buffers)", sv.Name, sv.Signon.Len()))
	printReady(fmt.Sprintf("frame loop started (tick: %s, input poll: %s)", cfg.Network.TickRate, cfg.Network.InputPoll))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
		case <-pollC:
			runner.TickPhase(coresys.PhaseInput, 0)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			sv.SaveSpawnParms()
			if persistSys != nil {
				persistSys.SaveNow()
			}
			transport.Close()
			log.Info("server stopped")
			return nil
		}
	}
}

func serverOptions(cfg *config.Config) server.Options {
	return server.Options{
		Hostname:       cfg.Server.Hostname,
		MaxClients:     cfg.Server.MaxClients,
		MaxEdicts:      cfg.World.MaxEdicts,
		Deathmatch:     cfg.Server.Deathmatch,
		Coop:           cfg.Server.Coop,
		Protocol:       cfg.Protocol.Version,
		ProtocolFlags:  cfg.Protocol.Flags,
		NetSort:        cfg.Network.NetSort,
		PasswordHash:   cfg.Server.PasswordHash,
		IdleKeepalive:  cfg.Network.IdleKeepalive,
		OverflowRespam: cfg.Diagnostics.OverflowRespam,
		StatsFrom:      cfg.Network.StatsFrom,
		StandardQuake:  cfg.Protocol.StandardQuake,

		WeaponBitsPatch: cfg.Protocol.WeaponBitsPatch,
	}
}

// subscribeEvents keeps a running player count for the operator log.
func subscribeEvents(bus *event.Bus, log *zap.Logger) {
	online := 0
	event.Subscribe(bus, func(ev event.ClientSpawned) {
		online++
		log.Info("players online", zap.Int("count", online), zap.String("joined", ev.Name))
	})
	event.Subscribe(bus, func(ev event.ClientDropped) {
		if online > 0 {
			online--
		}
		log.Info("players online", zap.Int("count", online), zap.String("left", ev.Name))
	})
	event.Subscribe(bus, func(ev event.LevelSpawned) {
		online = 0
		log.Info("level running", zap.String("map", ev.Name), zap.String("level_id", ev.LevelID.String()))
	})
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
