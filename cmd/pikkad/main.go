// Pikkad is the pikka-console daemon.
//
// It runs the relay that producers connect to, the viewer that aggregates
// what they send, and optionally a demo page feeding both. Shutdown is
// handled gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/large-farva/pikka-console/internal/app"
	"github.com/large-farva/pikka-console/internal/config"
	"github.com/large-farva/pikka-console/internal/observability"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config TOML (defaults apply when empty)")
		host       = pflag.String("host", "", "Listen host (overrides server.host)")
		port       = pflag.IntP("port", "p", 0, "Listen port (overrides server.port)")
		open       = pflag.Bool("open", false, "Open the viewer in a browser once listening")
		demo       = pflag.Bool("demo", false, "Run the demo page")
		source     = pflag.String("source", "", "Viewer source: relay or broadcast")
		logLevel   = pflag.String("log-level", "", "Log level: debug, info, warn, error")
		version    = pflag.BoolP("version", "v", false, "Print version and exit")
	)
	pflag.Parse()

	if *version {
		fmt.Printf("pikkad %s (%s, built %s)\n", app.Version, app.GoVersion, app.BuiltAt)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pikkad: config load failed: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if pflag.CommandLine.Changed("host") {
		cfg.Server.Host = *host
	}
	if pflag.CommandLine.Changed("port") {
		cfg.Server.Port = *port
	}
	if *open {
		cfg.Server.Open = true
	}
	if *demo {
		cfg.Demo.Enabled = true
	}
	if *source != "" {
		cfg.Viewer.Source = *source
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "pikkad: %v\n", err)
		os.Exit(2)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Pretty()).
		With().Str("service", "pikkad").Logger()

	a := app.New(app.Options{
		Logger:     logger,
		Cfg:        cfg,
		ConfigPath: *configPath,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := a.Listen()
	if err != nil {
		if app.IsAddrInUse(err) {
			fmt.Fprintf(os.Stderr, "pikkad: port %d is already in use; is another pikkad running? Try --port.\n", cfg.Server.Port)
			os.Exit(1)
		}
		logger.Fatal().Err(err).Msg("listen failed")
	}

	logger.Info().
		Str("relay", a.RelayURL()).
		Bool("viewer", cfg.Viewer.Enabled).
		Bool("demo", cfg.Demo.Enabled).
		Msg("pikkad starting")

	if cfg.Server.Open && cfg.Viewer.Enabled {
		go openBrowser(logger, a.ViewerURL())
	}

	if err := a.Serve(ctx, ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("pikkad failed")
	}

	// Brief pause so in-flight log writes can flush before exit.
	time.Sleep(50 * time.Millisecond)
}

func openBrowser(logger zerolog.Logger, url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		logger.Warn().Err(err).Str("url", url).Msg("could not open browser")
		return
	}
	_ = cmd.Wait()
}
