package feedback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"vastfeedback/internal/components/assert"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/events"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	report_engine_submit = "engine.submit"
)

var submittedCounter, _ = meter.Int64Counter(
	"feedback.records_submitted",
	metric.WithDescription("Feedback forms finalized on the portal."),
)
var failedCounter, _ = meter.Int64Counter(
	"feedback.records_failed",
	metric.WithDescription("Feedback forms that could not be submitted."),
)

// Counts is the outcome of a submission loop.
type Counts struct {
	Total     int
	Completed int
	Failed    int
}

// Engine submits pending records one at a time, a failing record is reported
// and skipped.
type Engine struct {
	portal Portal
	config Config
	tel    telemetry.API
}

func NewEngine(portal Portal, config Config, tel telemetry.API) Engine {
	assert.NotNil(portal, "portal")
	assert.NotNil(tel, "telemetry")
	assert.NotEmptyStr(config.Model, "feedback model")

	return Engine{
		portal: portal,
		config: config,
		tel:    telemetry.NewScopedAPI("feedback", tel),
	}
}

type questionsRow struct {
	QuestionsLine []int64 `json:"questions_line"`
}

// questionIds reads the answerable question lines of a record.
func (e Engine) questionIds(ctx context.Context, session erp.Session, recordId int64) ([]int64, error) {
	var rows []questionsRow
	err := e.portal.CallKw(ctx, session, erp.CallKwRequest{
		Model:   e.config.Model,
		Method:  "read",
		Args:    []any{[]int64{recordId}, []string{"questions_line"}},
		Kwargs:  map[string]any{"context": e.config.kwargsContext(session.UserId)},
		Context: e.config.topLevelContext(session.UserId),
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].QuestionsLine, nil
}

// writeMarks sets the same mark on every question line in a single write.
func (e Engine) writeMarks(ctx context.Context, session erp.Session, recordId int64, questionIds []int64, rating int) error {
	lines := make([]any, len(questionIds))
	for i, qid := range questionIds {
		// (1, id, values) updates the linked line in place.
		lines[i] = []any{1, qid, map[string]any{"mark_state": rating}}
	}
	return e.portal.CallKw(ctx, session, erp.CallKwRequest{
		Model:  e.config.Model,
		Method: "write",
		Args: []any{
			[]int64{recordId},
			map[string]any{"questions_line": lines},
		},
		Kwargs:  map[string]any{"context": e.config.kwargsContext(session.UserId)},
		Context: e.config.topLevelContext(session.UserId),
	}, nil)
}

func (e Engine) finalize(ctx context.Context, session erp.Session, recordId int64) error {
	return e.portal.CallButton(ctx, session, erp.CallButtonRequest{
		Model:         e.config.Model,
		Method:        "button_submit",
		Ids:           []int64{recordId},
		ButtonContext: e.config.kwargsContext(session.UserId),
		Context:       e.config.topLevelContext(session.UserId),
	})
}

// SubmitRecord reads, answers and finalizes one record.
func (e Engine) SubmitRecord(ctx context.Context, session erp.Session, record Record, rating int) error {
	ctx, span := tracer.Start(ctx, "feedback:SubmitRecord")
	defer span.End()
	span.SetAttributes(attribute.Int64("record_id", record.Id))

	fail := func(err error) error {
		span.SetStatus(codes.Error, err.Error())
		return &RecordFault{RecordId: record.Id, Subject: record.Subject, Err: err}
	}

	questionIds, err := e.questionIds(ctx, session, record.Id)
	if err != nil {
		return fail(err)
	}
	if len(questionIds) > 0 {
		err = e.writeMarks(ctx, session, record.Id, questionIds, rating)
		if err != nil {
			return fail(err)
		}
	}
	err = e.finalize(ctx, session, record.Id)
	if err != nil {
		return fail(err)
	}
	return nil
}

func percent(completed, total int) int {
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// Submit runs the submission loop over records, streaming progress to emit.
// It only returns an error when the consumer went away, per-record faults are
// counted in Counts.Failed.
func (e Engine) Submit(ctx context.Context, session erp.Session, records []Record, policy RatingPolicy, emit *events.Emitter) (Counts, error) {
	ctx, span := tracer.Start(ctx, "feedback:Submit")
	defer span.End()

	counts := Counts{Total: len(records)}

	emit.Logf("5) Submitting feedback for each teacher...")
	emit.LoggedStatus(events.Status{
		Step:      events.StepSubmit,
		Progress:  events.Int(1),
		Total:     events.Int(counts.Total),
		Completed: events.Int(0),
		Message:   fmt.Sprintf("Submitting %d forms...", counts.Total),
	})

	for _, record := range records {
		if emit.Closed() {
			span.SetStatus(codes.Error, ErrStreamClosed.Error())
			return counts, ErrStreamClosed
		}

		emit.Logf("   -> Submitting for %s (%s)...", record.Subject, record.Course)

		err := e.SubmitRecord(ctx, session, record, policy.RatingFor(record.Id))
		if err != nil {
			counts.Failed++
			failedCounter.Add(ctx, 1)

			message := err.Error()
			var fault *RecordFault
			if errors.As(err, &fault) {
				message = fault.Err.Error()
			}
			e.tel.ReportBroken(report_engine_submit, err)
			emit.Logf("   -> Error submitting for %s: %s", record.Subject, message)
			emit.LoggedStatus(events.Status{
				Step:    events.StepSubmit,
				Message: fmt.Sprintf("Error with %s: %s", record.Subject, message),
			})
			continue
		}

		counts.Completed++
		submittedCounter.Add(ctx, 1)

		emit.AppendLog(" Done.")
		emit.LoggedStatus(events.Status{
			Step:      events.StepSubmit,
			Progress:  events.Int(percent(counts.Completed, counts.Total)),
			Total:     events.Int(counts.Total),
			Completed: events.Int(counts.Completed),
			Message:   fmt.Sprintf("Submitted %s (%s)", record.Subject, record.Course),
		})
	}

	span.SetAttributes(
		attribute.Int("completed", counts.Completed),
		attribute.Int("failed", counts.Failed),
	)
	return counts, nil
}
