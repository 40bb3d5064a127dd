package feedback

import (
	"context"
	"fmt"
	"vastfeedback/internal/components/assert"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/events"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_resolver_batch = "resolver.batch"
)

// Resolver runs the dependent lookups that locate the account's pending feedback
// forms: batch, then semester, then configuration, then the forms themselves.
type Resolver struct {
	portal Portal
	config Config
	tel    telemetry.API
}

func NewResolver(portal Portal, config Config, tel telemetry.API) Resolver {
	assert.NotNil(portal, "portal")
	assert.NotNil(tel, "telemetry")
	assert.NotEmptyStr(config.Model, "feedback model")

	return Resolver{
		portal: portal,
		config: config,
		tel:    telemetry.NewScopedAPI("feedback", tel),
	}
}

// groupValues reads the grouped field of every group, groups whose value is
// unset are skipped.
func (r Resolver) groupValues(ctx context.Context, session erp.Session, field string, domain []erp.Condition) ([]erp.Many2One, error) {
	groups, err := r.portal.ReadGroup(ctx, session, erp.ReadGroupRequest{
		Model:         r.config.Model,
		Domain:        domain,
		Fields:        []string{field},
		GroupBy:       []string{field},
		KwargsContext: r.config.kwargsContext(session.UserId),
		Context:       r.config.topLevelContext(session.UserId),
	})
	if err != nil {
		return nil, err
	}

	values := []erp.Many2One{}
	for _, g := range groups {
		value, err := g.Many2One(field)
		if err != nil {
			return nil, &erp.TransportFault{Path: "/dataset/call_kw", Err: fmt.Errorf("read_group %s: %w", field, err)}
		}
		if !value.IsSet() {
			continue
		}
		values = append(values, value)
	}
	return values, nil
}

// Batch returns the first batch the account belongs to.
func (r Resolver) Batch(ctx context.Context, session erp.Session) (erp.Many2One, error) {
	ctx, span := tracer.Start(ctx, "feedback:Batch")
	defer span.End()

	batches, err := r.groupValues(ctx, session, "gt_batch_id", []erp.Condition{
		erp.Cond("login_id", "=", session.UserId),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return erp.Many2One{}, err
	}
	span.SetAttributes(attribute.Int("groups", len(batches)))

	if len(batches) == 0 {
		span.SetStatus(codes.Error, "no batch")
		return erp.Many2One{}, &ContextFault{Step: events.StepBatch, Reason: "No batch found for this account."}
	}
	if len(batches) > 1 {
		if r.config.StrictBatch {
			span.SetStatus(codes.Error, "ambiguous batch")
			return erp.Many2One{}, &ContextFault{
				Step:   events.StepBatch,
				Reason: fmt.Sprintf("Found %d batches for this account, expected one.", len(batches)),
			}
		}
		r.tel.ReportWarning(report_resolver_batch, fmt.Errorf("%d batch groups, using the first", len(batches)), "uid", session.UserId)
	}
	return batches[0], nil
}

// Semester returns the last semester group of the batch, the portal lists
// groups in ascending order so the last one is the latest.
func (r Resolver) Semester(ctx context.Context, session erp.Session, batch erp.Many2One) (erp.Many2One, error) {
	ctx, span := tracer.Start(ctx, "feedback:Semester")
	defer span.End()

	semesters, err := r.groupValues(ctx, session, "semester", []erp.Condition{
		erp.Cond("gt_batch_id", "=", batch.Id),
		erp.Cond("login_id", "=", session.UserId),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return erp.Many2One{}, err
	}
	if len(semesters) == 0 {
		span.SetStatus(codes.Error, "no semester")
		return erp.Many2One{}, &ContextFault{Step: events.StepSemester, Reason: "No semesters found for the batch."}
	}
	return semesters[len(semesters)-1], nil
}

// latestConfig picks the configuration with the highest id, whatever order
// the groups came in.
func latestConfig(configs []erp.Many2One) (erp.Many2One, bool) {
	if len(configs) == 0 {
		return erp.Many2One{}, false
	}
	latest := configs[0]
	for _, c := range configs[1:] {
		if c.Id > latest.Id {
			latest = c
		}
	}
	return latest, true
}

// Config returns the latest feedback configuration of the semester.
func (r Resolver) Config(ctx context.Context, session erp.Session, batch, semester erp.Many2One) (erp.Many2One, error) {
	ctx, span := tracer.Start(ctx, "feedback:Config")
	defer span.End()

	configs, err := r.groupValues(ctx, session, "config_id", []erp.Condition{
		erp.Cond("semester", "=", semester.Id),
		erp.Cond("gt_batch_id", "=", batch.Id),
		erp.Cond("login_id", "=", session.UserId),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return erp.Many2One{}, err
	}
	latest, ok := latestConfig(configs)
	if !ok {
		span.SetStatus(codes.Error, "no config")
		return erp.Many2One{}, &ContextFault{
			Step:   events.StepConfig,
			Reason: "No feedback configurations found for the latest semester.",
		}
	}
	return latest, nil
}

type pendingRow struct {
	Id       int64        `json:"id"`
	Employee erp.Text     `json:"employeename"`
	Course   erp.Many2One `json:"course"`
	State    erp.Text     `json:"state"`
}

// Pending lists the draft feedback forms of the configuration, at most
// PageLimit of them.
func (r Resolver) Pending(ctx context.Context, session erp.Session, oc OperatingContext) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "feedback:Pending")
	defer span.End()

	var rows []pendingRow
	err := r.portal.SearchRead(ctx, session, erp.SearchReadRequest{
		Model:  r.config.Model,
		Fields: []string{"id", "employeename", "course", "state"},
		Domain: []erp.Condition{
			erp.Cond("config_id", "=", oc.ConfigId),
			erp.Cond("state", "=", "draft"),
			erp.Cond("login_id", "=", session.UserId),
		},
		Context: r.config.kwargsContext(session.UserId),
		Limit:   r.config.PageLimit,
	}, &rows)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = Record{
			Id:      row.Id,
			Subject: string(row.Employee),
			Course:  row.Course.Name,
			State:   string(row.State),
		}
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}
