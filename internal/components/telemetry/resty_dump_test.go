package telemetry

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestDumpRestyRedactsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "secret-session"})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"uid":9,"session_id":"secret-body-session"}}`))
	}))
	t.Cleanup(srv.Close)

	dir := filepath.Join(t.TempDir(), "dump")
	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	client := resty.New()
	DumpResty(client, output)

	_, err = client.R().
		SetHeader("Cookie", "session_id=old-session").
		SetBody(map[string]any{"login": "VAS21CS001", "password": "hunter2"}).
		Post(srv.URL + "/web/session/authenticate")
	require.NoError(t, err)

	contents, err := os.ReadFile(filepath.Join(dir, "1"))
	require.NoError(t, err)
	text := string(contents)

	require.Contains(t, text, "POST "+srv.URL+"/web/session/authenticate")
	require.Contains(t, text, `"login":"VAS21CS001"`)
	require.Contains(t, text, `"password":"<redacted>"`)
	require.Contains(t, text, `{"result":{"uid":9,"session_id":"<redacted>"}}`)
	require.NotContains(t, text, "hunter2")
	require.NotContains(t, text, "secret-session")
	require.NotContains(t, text, "old-session")
	require.NotContains(t, text, "secret-body-session")
}

func TestNewFilesystemOutputClearsDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale"), []byte("x"), 0600))

	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)
	output.Write("1", "fresh")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "1", entries[0].Name())
}
