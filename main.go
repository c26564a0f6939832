package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/browserwing/domguard/api"
	"github.com/browserwing/domguard/config"
	"github.com/browserwing/domguard/executor"
	"github.com/browserwing/domguard/pkg/logger"
	"github.com/browserwing/domguard/services/browser"
	"github.com/browserwing/domguard/services/diagnostics"
	"github.com/browserwing/domguard/services/player"
	"github.com/browserwing/domguard/storage"
)

// 构建信息变量，通过Makefile的LDFLAGS注入
var (
	Version   = "v0.1.0"
	BuildTime = ""
	GoVersion = ""
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to config file (default: config.toml)")
	scriptPath := flag.String("script", "", "Step file to play against a new browser session")
	serve := flag.Bool("serve", false, "Serve the read-only diagnostics API")
	port := flag.String("port", "", "Server port (default: 8080)")
	host := flag.String("host", "", "Server host (default: 127.0.0.1)")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Go Version: %s\n", GoVersion)
		os.Exit(0)
	}

	if *scriptPath == "" && !*serve {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -script <file> and/or -serve")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}

	logger.InitLogger(cfg.Log)

	db, err := storage.NewBoltDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	log.Println("✓ Database initialization successful")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if *serve {
		srv = startServer(cfg, db)
	}

	exitCode := 0
	if *scriptPath != "" {
		exitCode = runScript(ctx, cfg, db, *scriptPath)
	}

	if srv != nil {
		if *scriptPath == "" {
			<-ctx.Done()
		}
		log.Println("Exiting gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to stop server: %v", err)
		}
	}

	if exitCode != 0 {
		db.Close()
		os.Exit(exitCode)
	}
}

func startServer(cfg *config.Config, db *storage.BoltDB) *http.Server {
	handler := api.NewHandler(db, Version)
	router := api.SetupRouter(handler, cfg.Diagnostics.Dir, cfg.Debug)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Printf("🚀 Diagnostics API started at http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	return srv
}

// runScript plays one step file and returns the process exit code.
func runScript(ctx context.Context, cfg *config.Config, db *storage.BoltDB, path string) int {
	script, err := config.LoadScript(path)
	if err != nil {
		log.Printf("Failed to load script: %v", err)
		return 2
	}

	session, err := browser.Launch(ctx, cfg.Browser)
	if err != nil {
		// only a session failure is fatal for a run
		logger.Error(ctx, "Failed to start browser session: %v", err)
		log.Printf("Failed to start browser session: %v", err)
		return 1
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("Failed to close browser: %v", err)
		} else {
			log.Println("✓ Browser closed")
		}
	}()

	opts := executor.OptionsFromConfig(cfg.Wait)
	diag := diagnostics.New(session, cfg.Diagnostics, db)
	p := player.NewPlayer(
		executor.NewExecutor(session, diag, opts),
		executor.NewWaiter(session, diag, opts),
		opts,
		db,
	)

	execution := p.Play(ctx, script)
	log.Printf("Script %s finished in %s: %d succeeded, %d failed, aborted=%v (execution %s)",
		script.Name, player.Elapsed(execution).Round(time.Millisecond),
		execution.Succeeded, execution.Failed, execution.Aborted, execution.ID)

	if execution.Aborted {
		return 1
	}
	return 0
}
