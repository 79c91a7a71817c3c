package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harunnryd/voicedesk/pkg/logging"
	"github.com/harunnryd/voicedesk/pkg/transports/twilio"
	"github.com/harunnryd/voicedesk/pkg/voicedesk"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	dialTo := flag.String("dial_to", "", "destination number for outbound call")
	dialFrom := flag.String("dial_from", "", "caller ID for outbound call")
	dialURL := flag.String("dial_url", "", "override voice URL for outbound call")
	flag.Parse()

	cfg, err := voicedesk.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "path", *configPath, "error", err.Error())
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := voicedesk.NewEngine(ctx, voicedesk.EngineOptions{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("engine_init_failed", "error", err.Error())
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		logger.Error("engine_start_failed", "error", err.Error())
		os.Exit(1)
	}

	if *dialTo != "" && *dialFrom != "" {
		dial(ctx, logger, cfg, *dialTo, *dialFrom, *dialURL)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal_received", "signal", sig.String())
	if err := app.Stop(); err != nil {
		logger.Warn("engine_stop_failed", "error", err.Error())
		os.Exit(1)
	}
}

func dial(ctx context.Context, logger *slog.Logger, cfg voicedesk.Config, to, from, url string) {
	twilioCfg, err := cfg.TwilioConfig()
	if err != nil {
		logger.Error("outbound_dial_failed", "error", err.Error())
		return
	}
	callSID, err := twilio.NewDialer(twilioCfg).Dial(ctx, to, from, url)
	if err != nil {
		logger.Error("outbound_dial_failed", "error", err.Error())
		return
	}
	logger.Info("outbound_dial_started", "call_sid", callSID)
}
