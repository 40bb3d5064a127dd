package erp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"vastfeedback/internal/components/telemetry"
	"vastfeedback/internal/erp"
	"vastfeedback/internal/erp/erptest"

	"github.com/stretchr/testify/require"
)

func newTestClient(t testing.TB, baseUrl string, tel telemetry.API) *erp.Client {
	opts := erp.DefaultOptions()
	opts.BaseUrl = baseUrl
	opts.RequestsPerSecond = 0
	opts.TimeoutSeconds = 5

	client, err := erp.NewClient(opts, tel)
	require.NoError(t, err)
	return client
}

func TestNormalizeUsername(t *testing.T) {
	table := []struct {
		input    string
		expected string
	}{
		{input: "vas21cs001", expected: "VAS21CS001"},
		{input: "  Vas21cs001\t\n", expected: "VAS21CS001"},
		{input: "VAS21CS001", expected: "VAS21CS001"},
		{input: "straße", expected: "STRASSE"},
	}

	for _, row := range table {
		require.Equal(t, row.expected, erp.NormalizeUsername(row.input))
	}
}

func TestLogin(t *testing.T) {
	portal := &erptest.Portal{
		Username:  "VAS21CS001",
		Password:  "hunter2",
		Uid:       4211,
		SessionId: "a1b2c3",
		Token:     "3f9e0c",
	}
	client := newTestClient(t, portal.Start(t), telemetry.SlogAPI{})

	session, err := client.Login(context.Background(), "vas21cs001", "hunter2")
	require.NoError(t, err)
	require.Equal(t, erp.Session{
		Token:     "3f9e0c",
		SessionId: "a1b2c3",
		UserId:    4211,
	}, session)

	calls := portal.Calls()
	require.Len(t, calls, 1)
	require.JSONEq(t, `{
		"db": "liveone",
		"login": "VAS21CS001",
		"password": "hunter2",
		"base_location": "`+client.BaseUrl.String()+`",
		"context": {}
	}`, string(calls[0].Params))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	responders := map[string]http.HandlerFunc{
		"access denied": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":200,"message":"Odoo Server Error","data":{"message":"Access Denied"}}}`))
		},
		"uid false": func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "abc"})
			w.Write([]byte(`{"jsonrpc":"2.0","result":{"uid":false,"session_id":"abc"}}`))
		},
		"missing uid": func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "abc"})
			w.Write([]byte(`{"jsonrpc":"2.0","result":{"session_id":"abc"}}`))
		},
		"no cookie": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"jsonrpc":"2.0","result":{"uid":7,"session_id":"abc"}}`))
		},
		"not json": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("content-type", "text/html")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html><head><title>502 Bad Gateway</title></head></html>`))
		},
	}

	for name, responder := range responders {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(responder)
			defer server.Close()

			tel := &telemetry.TestAPI{}
			client := newTestClient(t, server.URL, tel)

			session, err := client.Login(context.Background(), "user", "pass")
			require.ErrorIs(t, err, erp.ErrInvalidCredentials)
			require.Equal(t, erp.ErrInvalidCredentials.Error(), err.Error())
			require.Equal(t, erp.Session{}, session)
			require.Len(t, tel.Reports("warning", "client.login"), 1)
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		client := newTestClient(t, url, telemetry.SlogAPI{})
		_, err := client.Login(context.Background(), "user", "pass")
		require.ErrorIs(t, err, erp.ErrInvalidCredentials)
	})
}
