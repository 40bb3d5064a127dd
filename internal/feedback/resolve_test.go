package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/erp/erptest"
	"vastfeedback/internal/events"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func loggedIn(t *testing.T, portal *erptest.Portal) (*erp.Client, erp.Session) {
	client := testClient(t, portal)
	session, err := client.Login(context.Background(), portal.Username, portal.Password)
	require.NoError(t, err)
	return client, session
}

func TestLatestConfigIgnoresOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("latest config is the max id in any order", prop.ForAll(
		func(ids []int64, seed int64) bool {
			configs := make([]erp.Many2One, len(ids))
			var highest int64
			for i, id := range ids {
				configs[i] = erp.Many2One{Id: id, Name: fmt.Sprintf("Config %d", id)}
				if id > highest {
					highest = id
				}
			}

			shuffled := append([]erp.Many2One{}, configs...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			latest, ok := latestConfig(configs)
			latestShuffled, okShuffled := latestConfig(shuffled)
			if len(ids) == 0 {
				return !ok && !okShuffled
			}
			return ok && okShuffled && latest == latestShuffled && latest.Id == highest
		},
		gen.SliceOf(gen.Int64Range(1, 10000)),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestResolveContext(t *testing.T) {
	portal := testPortal()
	client, session := loggedIn(t, portal)
	resolver := NewResolver(client, DefaultConfig(), telemetry.SlogAPI{})
	ctx := context.Background()

	batch, err := resolver.Batch(ctx, session)
	require.NoError(t, err)
	require.Equal(t, erp.Many2One{Id: 31, Name: "CSE 2021"}, batch)

	semester, err := resolver.Semester(ctx, session, batch)
	require.NoError(t, err)
	require.Equal(t, erp.Many2One{Id: 12, Name: "S6"}, semester)

	config, err := resolver.Config(ctx, session, batch, semester)
	require.NoError(t, err)
	require.Equal(t, erp.Many2One{Id: 2, Name: "Feedback 2"}, config)

	calls := portal.Calls()
	var params struct {
		Kwargs struct {
			Domain  [][3]any       `json:"domain"`
			Context map[string]any `json:"context"`
		} `json:"kwargs"`
		Context map[string]any `json:"context"`
	}
	require.NoError(t, json.Unmarshal(calls[len(calls)-1].Params, &params))
	require.Equal(t, [][3]any{
		{"semester", "=", float64(12)},
		{"gt_batch_id", "=", float64(31)},
		{"login_id", "=", float64(9)},
	}, params.Kwargs.Domain)
	require.Equal(t, map[string]any{"lang": "en_GB", "tz": "Asia/Kolkata", "uid": float64(9)}, params.Context)
	require.Equal(t, float64(1), params.Kwargs.Context["search_default_group_semester"])
}

func TestResolveBatchPolicy(t *testing.T) {
	portal := testPortal()
	portal.Batches = []erp.Many2One{{}, {Id: 31, Name: "CSE 2021"}, {Id: 32, Name: "CSE 2021 B"}}
	client, session := loggedIn(t, portal)

	tel := &telemetry.TestAPI{}
	batch, err := NewResolver(client, DefaultConfig(), tel).Batch(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, int64(31), batch.Id)
	require.Len(t, tel.Reports("warning", "resolver.batch"), 1)

	strict := DefaultConfig()
	strict.StrictBatch = true
	_, err = NewResolver(client, strict, tel).Batch(context.Background(), session)
	var fault *ContextFault
	require.True(t, errors.As(err, &fault))
	require.Equal(t, events.StepBatch, fault.Step)
}

func TestResolveMissingGroups(t *testing.T) {
	portal := testPortal()
	portal.Batches = nil
	portal.Semesters = nil
	portal.Configs = nil
	client, session := loggedIn(t, portal)
	resolver := NewResolver(client, DefaultConfig(), telemetry.SlogAPI{})
	ctx := context.Background()

	batch := erp.Many2One{Id: 31, Name: "CSE 2021"}
	semester := erp.Many2One{Id: 12, Name: "S6"}

	_, err := resolver.Batch(ctx, session)
	var fault *ContextFault
	require.True(t, errors.As(err, &fault))
	require.Equal(t, events.StepBatch, fault.Step)

	_, err = resolver.Semester(ctx, session, batch)
	require.True(t, errors.As(err, &fault))
	require.Equal(t, events.StepSemester, fault.Step)

	_, err = resolver.Config(ctx, session, batch, semester)
	require.True(t, errors.As(err, &fault))
	require.Equal(t, events.StepConfig, fault.Step)
	require.Equal(t, "No feedback configurations found for the latest semester.", err.Error())
}

func TestResolvePending(t *testing.T) {
	portal := testPortal()
	client, session := loggedIn(t, portal)

	records, err := NewResolver(client, DefaultConfig(), telemetry.SlogAPI{}).
		Pending(context.Background(), session, OperatingContext{ConfigId: 2})
	require.NoError(t, err)
	require.Equal(t, []Record{
		{Id: 100, Subject: "Dr. A", Course: "Compilers", State: "draft"},
		{Id: 101, Subject: "Dr. B", Course: "", State: "draft"},
	}, records)

	calls := portal.Calls()
	var params struct {
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(calls[len(calls)-1].Params, &params))
	require.Equal(t, 80, params.Limit)
}

func TestResolvePendingPageLimit(t *testing.T) {
	portal := testPortal()
	portal.Records = nil
	for i := 0; i < 100; i++ {
		portal.Records = append(portal.Records, erptest.Record{
			Id:       int64(1000 + i),
			Employee: fmt.Sprintf("Dr. %d", i),
			ConfigId: 2,
			State:    "draft",
		})
	}
	client, session := loggedIn(t, portal)

	records, err := NewResolver(client, DefaultConfig(), telemetry.SlogAPI{}).
		Pending(context.Background(), session, OperatingContext{ConfigId: 2})
	require.NoError(t, err)
	require.Len(t, records, 80)
}
