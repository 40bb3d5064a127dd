package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"vastfeedback/internal/components/configutil"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/events"
	"vastfeedback/internal/feedback"
	"vastfeedback/internal/server"

	"github.com/go-resty/resty/v2"
)

const (
	report_local_run = "local.run"
)

// runner performs a run and hands its events to handle, in order.
type runner interface {
	Run(ctx context.Context, body server.AutomateRequest, handle func(events.Event)) error
}

type config struct {
	Erp      erp.Options     `json:"erp"`
	Feedback feedback.Config `json:"feedback"`
}

// localRunner runs the pipeline in-process against the portal.
type localRunner struct {
	pipeline feedback.Pipeline
	tel      telemetry.API
}

func newLocalRunner() (localRunner, error) {
	cfg, err := configutil.ReadRecursively(configPath, config{
		Erp:      erp.DefaultOptions(),
		Feedback: feedback.DefaultConfig(),
	})
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no config file found, using defaults", "name", configPath)
	} else if err != nil {
		return localRunner{}, err
	}

	tel := telemetry.SlogAPI{}
	client, err := erp.NewClient(cfg.Erp, tel)
	if err != nil {
		return localRunner{}, err
	}
	return localRunner{
		pipeline: feedback.NewPipeline(client, cfg.Feedback, tel),
		tel:      telemetry.NewScopedAPI("cli", tel),
	}, nil
}

func (r localRunner) Run(ctx context.Context, body server.AutomateRequest, handle func(events.Event)) error {
	policy, err := body.Policy()
	if err != nil {
		return err
	}
	emit := events.NewEmitter(events.SinkFunc(func(e events.Event) error {
		handle(e)
		return nil
	}), r.tel)

	// failures reach handle as an error event
	err = r.pipeline.Run(ctx, feedback.RunRequest{
		Username: body.Username,
		Password: body.Password,
		Policy:   policy,
	}, emit)
	if err != nil {
		r.tel.ReportWarning(report_local_run, err)
	}
	return nil
}

// remoteRunner streams a run from a feedback server.
type remoteRunner struct {
	client *resty.Client
}

func newRemoteRunner(baseUrl string) remoteRunner {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseUrl, "/")).
		SetHeader("Accept", "application/x-ndjson")
	return remoteRunner{client: client}
}

func (r remoteRunner) Run(ctx context.Context, body server.AutomateRequest, handle func(events.Event)) error {
	res, err := r.client.R().
		SetContext(ctx).
		SetBody(body).
		SetDoNotParseResponse(true).
		Post("/api/automate")
	if err != nil {
		return err
	}
	raw := res.RawBody()
	defer raw.Close()

	if res.StatusCode() != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		err = json.NewDecoder(raw).Decode(&failure)
		if err != nil || failure.Error == "" {
			return fmt.Errorf("server responded %s", res.Status())
		}
		return fmt.Errorf("server: %s", failure.Error)
	}

	scanner := bufio.NewScanner(raw)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		e, err := events.Decode(line)
		if err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		handle(e)
	}
	return scanner.Err()
}
