package feedback

import (
	"errors"
	"testing"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/erp/erptest"
	"vastfeedback/internal/events"

	"github.com/stretchr/testify/require"
)

func testPortal() *erptest.Portal {
	return &erptest.Portal{
		Username:  "VAS21CS001",
		Password:  "pw",
		Uid:       9,
		SessionId: "s-9",
		Batches:   []erp.Many2One{{Id: 31, Name: "CSE 2021"}},
		Semesters: []erp.Many2One{{Id: 11, Name: "S5"}, {Id: 12, Name: "S6"}},
		Configs:   []erp.Many2One{{Id: 2, Name: "Feedback 2"}, {Id: 1, Name: "Feedback 1"}},
		Records: []erptest.Record{
			{Id: 100, Employee: "Dr. A", Course: erp.Many2One{Id: 5, Name: "Compilers"}, ConfigId: 2, State: "draft", Questions: []int64{1, 2}},
			{Id: 101, Employee: "Dr. B", ConfigId: 2, State: "draft", Questions: []int64{3}},
			{Id: 102, Employee: "Dr. C", ConfigId: 1, State: "draft", Questions: []int64{4}},
			{Id: 103, Employee: "Dr. D", ConfigId: 2, State: "done", Questions: []int64{5}},
		},
	}
}

func testClient(t *testing.T, portal *erptest.Portal) *erp.Client {
	opts := erp.DefaultOptions()
	opts.BaseUrl = portal.Start(t)
	opts.RequestsPerSecond = 0
	opts.TimeoutSeconds = 5

	client, err := erp.NewClient(opts, telemetry.SlogAPI{})
	require.NoError(t, err)
	return client
}

// recorder collects the events of a run.
type recorder struct {
	events []events.Event
	// failAfter makes every Send past the given number of events fail, 0 never fails.
	failAfter int
}

func (r *recorder) Send(e events.Event) error {
	if r.failAfter > 0 && len(r.events) >= r.failAfter {
		return errors.New("connection reset by peer")
	}
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) statuses(step events.Step) []events.Status {
	var out []events.Status
	for _, e := range r.events {
		if s, ok := e.(events.Status); ok && s.Step == step {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) last() events.Event {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) count(typ events.Type) int {
	n := 0
	for _, e := range r.events {
		if e.Type() == typ {
			n++
		}
	}
	return n
}
