package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeFHIR(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		if r.URL.Path != "/Condition" || r.URL.Query().Get("subject") != "10006" {
			_, _ = w.Write([]byte(`{"resourceType":"Bundle","total":0}`))
			return
		}
		_, _ = w.Write([]byte(`{"resourceType":"Bundle","total":1,"entry":[{"resource":{"resourceType":"Condition","id":"c1"}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAsk(t *testing.T) {
	srv := fakeFHIR(t)
	dir := t.TempDir()

	out, err := execute(t, "ask",
		"--fhir-base-url", srv.URL,
		"--log-dir", dir,
		"--transcript-db", "",
		"get", "conditions", "for", "patient", "10006",
	)
	require.NoError(t, err)
	require.Contains(t, out, "Found 1 condition(s) for patient 10006.")
	require.Contains(t, out, `"id": "c1"`)
	require.FileExists(t, filepath.Join(dir, "fhirchat.log"))
}

func TestAsk_ArchivesTranscript(t *testing.T) {
	srv := fakeFHIR(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "transcripts.db")

	_, err := execute(t, "ask",
		"--fhir-base-url", srv.URL,
		"--log-dir", dir,
		"--transcript-db", db,
		"help",
	)
	require.NoError(t, err)

	out, err := execute(t, "transcripts", "list",
		"--log-dir", dir,
		"--transcript-db", db,
	)
	require.NoError(t, err)
	require.Contains(t, out, "CHANNEL")
	require.Contains(t, out, cliChannel)
}

func TestTranscripts_RequireArchive(t *testing.T) {
	_, err := execute(t, "transcripts", "list",
		"--log-dir", t.TempDir(),
		"--transcript-db", "",
	)
	require.ErrorIs(t, err, errNoArchive)
}

func TestInvalidBaseURL(t *testing.T) {
	_, err := execute(t, "ask",
		"--fhir-base-url", "not a url",
		"--log-dir", t.TempDir(),
		"hello",
	)
	require.Error(t, err)
}
