package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"vastfeedback/internal/components/configutil"
	"vastfeedback/internal/components/serviceutil"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/feedback"
	"vastfeedback/internal/server"
)

type Config struct {
	Port      int              `json:"port"`
	Erp       erp.Options      `json:"erp"`
	Feedback  feedback.Config  `json:"feedback"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func DefaultConfig() Config {
	return Config{
		Port:     8000,
		Erp:      erp.DefaultOptions(),
		Feedback: feedback.DefaultConfig(),
	}
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the json5 configuration file.")
	dumpDir := flag.String("dump", "", "Write every portal exchange (credentials redacted) into this directory.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	telemetry.InitSlog(*verbose)

	cfg, err := configutil.ReadConfig(*configPath, DefaultConfig())
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("no config file found, using defaults", "path", *configPath)
	} else if err != nil {
		serviceutil.Fatal("read config", err)
	}

	InitTelemetry(ctx, *verbose, cfg.Telemetry)

	tel := telemetry.SlogAPI{}

	client, err := erp.NewClient(cfg.Erp, tel)
	if err != nil {
		serviceutil.Fatal("init erp client", err)
	}
	if *dumpDir != "" {
		output, err := telemetry.NewFilesystemOutput(*dumpDir)
		if err != nil {
			serviceutil.Fatal("init exchange dump", err)
		}
		telemetry.DumpResty(client.Http, output)
	}
	pipeline := feedback.NewPipeline(client, cfg.Feedback, tel)

	mux := http.NewServeMux()
	server.NewHandler(pipeline, tel).Register(mux)

	serviceutil.StartHttpServer(ctx, cfg.Port, mux)
}
