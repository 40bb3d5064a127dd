// Package server exposes feedback runs over HTTP, a run's events are streamed
// back as newline-delimited JSON while it progresses.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"vastfeedback/internal/components/assert"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/events"
	"vastfeedback/internal/feedback"

	"github.com/mazen160/go-random"
)

const (
	report_handler_run    = "handler.run"
	report_handler_run_id = "handler.run-id"
)

const maxBodyBytes = 1 << 20

// Runner performs a run, feedback.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req feedback.RunRequest, emit *events.Emitter) error
}

// AutomateRequest is the body of POST /api/automate.
type AutomateRequest struct {
	Username     string        `json:"username"`
	Password     string        `json:"password"`
	FeedbackMode feedback.Mode `json:"feedbackMode,omitempty"`
	// Rating applies to every record in "set-all" mode.
	Rating *int `json:"rating,omitempty"`
	// FacultyRatings maps record ids to ratings in "custom" mode, it is left
	// empty on the first request to get the list of records to rate.
	FacultyRatings map[int64]int `json:"facultyRatings,omitempty"`
}

// Policy validates the rating fields of the request.
func (r AutomateRequest) Policy() (feedback.RatingPolicy, error) {
	var policy feedback.RatingPolicy
	switch r.FeedbackMode {
	case "", feedback.ModeSetAll:
		if r.Rating == nil {
			return feedback.RatingPolicy{}, feedback.ErrInvalidRating
		}
		policy = feedback.UniformRating(*r.Rating)
	case feedback.ModeCustom:
		policy = feedback.PerRecordRating(r.FacultyRatings)
	default:
		return feedback.RatingPolicy{}, feedback.ErrUnknownMode
	}
	err := policy.Validate()
	if err != nil {
		return feedback.RatingPolicy{}, err
	}
	return policy, nil
}

type Handler struct {
	runner Runner
	tel    telemetry.API
}

func NewHandler(runner Runner, tel telemetry.API) Handler {
	assert.NotNil(runner, "runner")
	assert.NotNil(tel, "telemetry")

	return Handler{
		runner: runner,
		tel:    telemetry.NewScopedAPI("server", tel),
	}
}

// Register mounts the handler on POST /api/automate.
func (h Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/automate", h)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body AutomateRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required.")
		return
	}
	policy, err := body.Policy()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runId, err := random.String(12)
	if err != nil {
		h.tel.ReportBroken(report_handler_run_id, err)
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	// the consumer is gone once the request context is done, remote calls
	// already issued still run to completion on a detached context
	requestCtx := r.Context()
	writer := events.NewWriterSink(w)
	sink := events.SinkFunc(func(e events.Event) error {
		if err := requestCtx.Err(); err != nil {
			return err
		}
		return writer.Send(e)
	})
	emit := events.NewEmitter(sink, h.tel)

	h.tel.ReportDebug("run started", runId, erp.NormalizeUsername(body.Username), string(policy.Mode))
	err = h.runner.Run(context.WithoutCancel(requestCtx), feedback.RunRequest{
		Username: body.Username,
		Password: body.Password,
		Policy:   policy,
	}, emit)
	if err != nil {
		h.tel.ReportWarning(report_handler_run, err, runId)
		return
	}
	h.tel.ReportDebug("run finished", runId)
}
