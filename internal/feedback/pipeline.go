package feedback

import (
	"context"
	"errors"
	"fmt"
	"vastfeedback/internal/components/assert"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/events"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_pipeline_run       = "pipeline.run"
	report_pipeline_completed = "pipeline.completed"
	report_pipeline_failed    = "pipeline.failed"
)

// RunRequest is everything a run needs, a run keeps no state between requests
// so the follow-up of a need_ratings run carries the credentials again.
type RunRequest struct {
	Username string
	Password string
	Policy   RatingPolicy
}

// Pipeline logs in, resolves the feedback context and submits every pending
// record of an account.
type Pipeline struct {
	portal   Portal
	resolver Resolver
	engine   Engine
	tel      telemetry.API
}

func NewPipeline(portal Portal, config Config, tel telemetry.API) Pipeline {
	assert.NotNil(portal, "portal")
	assert.NotNil(tel, "telemetry")

	return Pipeline{
		portal:   portal,
		resolver: NewResolver(portal, config, tel),
		engine:   NewEngine(portal, config, tel),
		tel:      telemetry.NewScopedAPI("feedback", tel),
	}
}

// Run performs one run, emitting its events in order. The stream ends with
// exactly one of done, need_ratings or error unless the consumer went away.
//
// The returned error is for the caller's logging, it has already been reported
// to the consumer.
func (p Pipeline) Run(ctx context.Context, req RunRequest, emit *events.Emitter) error {
	ctx, span := tracer.Start(ctx, "feedback:Run", trace.WithAttributes(
		attribute.String("mode", string(req.Policy.Mode)),
	))
	defer span.End()

	err := p.run(ctx, req, emit)
	if errors.Is(err, ErrStreamClosed) {
		span.SetStatus(codes.Error, err.Error())
		p.tel.ReportWarning(report_pipeline_run, err)
		return err
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		emit.Fail(err)
		return err
	}
	return nil
}

func (p Pipeline) run(ctx context.Context, req RunRequest, emit *events.Emitter) error {
	emit.Status(events.Status{Step: events.StepLogin, Progress: events.Int(5), Message: "Logging in..."})
	session, err := p.portal.Login(ctx, req.Username, req.Password)
	if err != nil {
		return err
	}
	emit.Logf(" Login Successful.")
	emit.Status(events.Status{Step: events.StepLogin, Progress: events.Int(100), Message: "Login successful"})

	if emit.Closed() {
		return ErrStreamClosed
	}
	emit.Logf("1) Fetching dynamic batch ID...")
	emit.LoggedStatus(events.Status{Step: events.StepBatch, Progress: events.Int(5), Message: "Fetching dynamic batch ID..."})
	batch, err := p.resolver.Batch(ctx, session)
	if err != nil {
		return err
	}
	emit.Logf("    Found Batch: %s (ID: %d)", batch.Name, batch.Id)
	emit.LoggedStatus(events.Status{Step: events.StepBatch, Progress: events.Int(100), Message: fmt.Sprintf("Found %s", batch.Name)})

	if emit.Closed() {
		return ErrStreamClosed
	}
	emit.Logf("2) Fetching available semesters...")
	emit.LoggedStatus(events.Status{Step: events.StepSemester, Progress: events.Int(5), Message: "Fetching semesters..."})
	semester, err := p.resolver.Semester(ctx, session, batch)
	if err != nil {
		return err
	}
	emit.Logf("    Found latest semester: %s", semester.Name)
	emit.LoggedStatus(events.Status{Step: events.StepSemester, Progress: events.Int(100), Message: fmt.Sprintf("Found %s", semester.Name)})

	if emit.Closed() {
		return ErrStreamClosed
	}
	emit.Logf("3) Fetching feedback configuration...")
	emit.LoggedStatus(events.Status{Step: events.StepConfig, Progress: events.Int(5), Message: "Fetching config..."})
	config, err := p.resolver.Config(ctx, session, batch, semester)
	if err != nil {
		return err
	}
	emit.Logf("    Found latest config: %s (ID: %d)", config.Name, config.Id)
	emit.LoggedStatus(events.Status{Step: events.StepConfig, Progress: events.Int(100), Message: fmt.Sprintf("Found: %s", config.Name)})

	oc := OperatingContext{
		BatchId:      batch.Id,
		BatchName:    batch.Name,
		SemesterId:   semester.Id,
		SemesterName: semester.Name,
		ConfigId:     config.Id,
		ConfigName:   config.Name,
	}

	if emit.Closed() {
		return ErrStreamClosed
	}
	emit.Logf("4) Fetching all pending feedback forms...")
	emit.LoggedStatus(events.Status{Step: events.StepPending, Progress: events.Int(5), Message: "Finding pending forms..."})
	records, err := p.resolver.Pending(ctx, session, oc)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		emit.Logf(" No pending feedback forms found. You are all done!")
		emit.LoggedStatus(events.Status{Step: events.StepPending, Progress: events.Int(100), Message: "No pending forms"})
		emit.LoggedStatus(events.Status{
			Step:      events.StepSubmit,
			Progress:  events.Int(100),
			Total:     events.Int(0),
			Completed: events.Int(0),
			Message:   "Nothing to submit",
		})
		emit.Done(0)
		return nil
	}
	emit.Logf("    Found %d feedback forms to submit.", len(records))
	emit.LoggedStatus(events.Status{Step: events.StepPending, Progress: events.Int(100), Message: fmt.Sprintf("Found %d forms", len(records))})

	if req.Policy.NeedsInput() {
		faculties := make([]events.Faculty, len(records))
		for i, r := range records {
			faculties[i] = r.Faculty()
		}
		emit.NeedRatings(faculties)
		return nil
	}

	if emit.Closed() {
		return ErrStreamClosed
	}
	counts, err := p.engine.Submit(ctx, session, records, req.Policy, emit)
	if err != nil {
		return err
	}

	p.tel.ReportCount(report_pipeline_completed, int64(counts.Completed))
	p.tel.ReportCount(report_pipeline_failed, int64(counts.Failed))

	emit.Logf(" All feedback submitted successfully!")
	emit.Done(counts.Failed)
	return nil
}
