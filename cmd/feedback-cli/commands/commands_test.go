package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/erp/erptest"
	"vastfeedback/internal/events"
	"vastfeedback/internal/feedback"
	"vastfeedback/internal/server"

	"github.com/stretchr/testify/require"
)

func TestParseRating(t *testing.T) {
	table := []struct {
		input    string
		expected int
		fails    bool
	}{
		{input: "", expected: feedback.DefaultRating},
		{input: "3", expected: 3},
		{input: "5", expected: 5},
		{input: "0", fails: true},
		{input: "6", fails: true},
		{input: "good", fails: true},
	}

	for _, row := range table {
		value, err := parseRating(row.input)
		if row.fails {
			require.ErrorIs(t, err, feedback.ErrInvalidRating, row.input)
			continue
		}
		require.NoError(t, err, row.input)
		require.Equal(t, row.expected, value)
	}
}

func TestPrinter(t *testing.T) {
	out := &bytes.Buffer{}
	p := &printer{out: out}

	p.handle(events.Status{Step: events.StepLogin, Progress: events.Int(5), Message: "Logging in..."})
	p.handle(events.Status{Step: events.StepBatch, Progress: events.Int(5), Message: "Fetching dynamic batch ID..."})
	p.handle(events.Log{Message: "Found CSE 2021"})
	p.handle(events.Status{Step: events.StepSubmit, Progress: events.Int(50), Total: events.Int(2), Completed: events.Int(1)})
	p.handle(events.Done{Failed: 1})

	require.Equal(t, "Logging in...\nFound CSE 2021\n   [1/2] 50%\n---\nFinished, 1 form(s) could not be submitted.\n", out.String())

	p.handle(events.Error{Message: "Incorrect username or password."})
	require.Equal(t, "Incorrect username or password.", p.err)
}

func testServer(t *testing.T, portal *erptest.Portal) string {
	opts := erp.DefaultOptions()
	opts.BaseUrl = portal.Start(t)
	opts.RequestsPerSecond = 0
	opts.TimeoutSeconds = 5
	client, err := erp.NewClient(opts, telemetry.SlogAPI{})
	require.NoError(t, err)

	mux := http.NewServeMux()
	server.NewHandler(feedback.NewPipeline(client, feedback.DefaultConfig(), telemetry.SlogAPI{}), telemetry.SlogAPI{}).Register(mux)
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s.URL
}

func TestRemoteRunner(t *testing.T) {
	portal := &erptest.Portal{
		Username:  "VAS21CS001",
		Password:  "pw",
		Uid:       9,
		SessionId: "s-9",
		Batches:   []erp.Many2One{{Id: 31, Name: "CSE 2021"}},
		Semesters: []erp.Many2One{{Id: 12, Name: "S6"}},
		Configs:   []erp.Many2One{{Id: 2, Name: "Feedback 2"}},
		Records: []erptest.Record{
			{Id: 100, Employee: "Dr. A", Course: erp.Many2One{Id: 5, Name: "Compilers"}, ConfigId: 2, State: "draft", Questions: []int64{1}},
		},
	}
	r := newRemoteRunner(testServer(t, portal))

	p := &printer{out: &bytes.Buffer{}}
	err := r.Run(context.Background(), server.AutomateRequest{
		Username:     "vas21cs001",
		Password:     "pw",
		FeedbackMode: feedback.ModeCustom,
	}, p.handle)
	require.NoError(t, err)
	require.Equal(t, []events.Faculty{{Id: 100, Name: "Dr. A", Course: "Compilers"}}, p.faculties)

	p = &printer{out: &bytes.Buffer{}}
	err = r.Run(context.Background(), server.AutomateRequest{
		Username:       "vas21cs001",
		Password:       "pw",
		FeedbackMode:   feedback.ModeCustom,
		FacultyRatings: map[int64]int{100: 2},
	}, p.handle)
	require.NoError(t, err)
	require.Empty(t, p.err)
	require.Equal(t, []erptest.Write{{RecordId: 100, Marks: []erptest.Mark{{QuestionId: 1, Value: 2}}}}, portal.Writes())

	err = r.Run(context.Background(), server.AutomateRequest{Username: "vas21cs001"}, p.handle)
	require.EqualError(t, err, "server: Username and password are required.")
}

func TestLocalRunnerReportsFailedRun(t *testing.T) {
	portal := &erptest.Portal{
		Username:  "VAS21CS001",
		Password:  "pw",
		Uid:       9,
		SessionId: "s-9",
	}
	opts := erp.DefaultOptions()
	opts.BaseUrl = portal.Start(t)
	opts.RequestsPerSecond = 0
	opts.TimeoutSeconds = 5
	client, err := erp.NewClient(opts, telemetry.SlogAPI{})
	require.NoError(t, err)

	tel := &telemetry.TestAPI{}
	r := localRunner{
		pipeline: feedback.NewPipeline(client, feedback.DefaultConfig(), telemetry.SlogAPI{}),
		tel:      tel,
	}

	rating := 1
	p := &printer{out: &bytes.Buffer{}}
	err = r.Run(context.Background(), server.AutomateRequest{
		Username: "vas21cs001",
		Password: "wrong",
		Rating:   &rating,
	}, p.handle)
	require.NoError(t, err)
	require.Equal(t, erp.ErrInvalidCredentials.Error(), p.err)
	require.Len(t, tel.Reports("warning", report_local_run), 1)
}
