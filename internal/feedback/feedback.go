// Package feedback resolves a student's current feedback context on the ERP
// portal and submits every pending feedback form, reporting progress as events.
package feedback

import (
	"context"
	"fmt"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/events"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("feedback")
var meter = otel.Meter("feedback")

// Portal is the subset of the ERP client used by a run, *erp.Client implements it.
type Portal interface {
	Login(ctx context.Context, username, password string) (erp.Session, error)
	ReadGroup(ctx context.Context, session erp.Session, req erp.ReadGroupRequest) ([]erp.Group, error)
	SearchRead(ctx context.Context, session erp.Session, req erp.SearchReadRequest, out any) error
	CallKw(ctx context.Context, session erp.Session, req erp.CallKwRequest, out any) error
	CallButton(ctx context.Context, session erp.Session, req erp.CallButtonRequest) error
}

// ErrStreamClosed is returned when the consumer of a run's events went away,
// the run stops before issuing any further remote call.
var ErrStreamClosed = fmt.Errorf("event stream closed by consumer")

// ContextFault is a fatal failure to resolve the batch, semester or
// configuration of the account.
type ContextFault struct {
	Step   events.Step
	Reason string
}

func (f *ContextFault) Error() string {
	return f.Reason
}

// RecordFault is the failure of a single record during submission, it never
// aborts the run.
type RecordFault struct {
	RecordId int64
	Subject  string
	Err      error
}

func (f *RecordFault) Error() string {
	return fmt.Sprintf("record %d (%s): %s", f.RecordId, f.Subject, f.Err.Error())
}

func (f *RecordFault) Unwrap() error {
	return f.Err
}

// OperatingContext identifies the feedback round the pending records belong to.
type OperatingContext struct {
	BatchId      int64
	BatchName    string
	SemesterId   int64
	SemesterName string
	ConfigId     int64
	ConfigName   string
}

// Record is a pending feedback form.
type Record struct {
	Id int64
	// Subject is the faculty member being rated.
	Subject string
	Course  string
	State   string
}

func (r Record) Faculty() events.Faculty {
	return events.Faculty{Id: r.Id, Name: r.Subject, Course: r.Course}
}
