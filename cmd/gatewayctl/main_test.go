package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schematichub/overview-gateway/internal/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func fakeGitHub(t *testing.T) *testutil.IPv4Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/board/commits", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			_, _ = fmt.Fprint(w, `[]`)
			return
		}
		_, _ = fmt.Fprint(w, `[
			{"sha":"c3","commit":{"message":"Route USB","author":{"date":"2024-03-03T10:00:00Z"}}},
			{"sha":"c2","commit":{"message":"Docs","author":{"date":"2024-03-02T10:00:00Z"}}},
			{"sha":"c1","commit":{"message":"Initial","author":{"date":"2024-03-01T10:00:00Z"}}}
		]`)
	})
	mux.HandleFunc("/repos/acme/board/commits/", func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/repos/acme/board/commits/") {
		case "c1":
			_, _ = fmt.Fprint(w, `{"sha":"c1","files":[{"filename":"main.kicad_sch"}]}`)
		case "c2":
			_, _ = fmt.Fprint(w, `{"sha":"c2","files":[{"filename":"README.md"}]}`)
		case "c3":
			_, _ = fmt.Fprint(w, `{"sha":"c3","files":[{"filename":"usb.kicad_sch"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	return testutil.NewIPv4Server(t, mux)
}

// setup scaffolds a loopback configuration in a temp dir.
func setup(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"OVERVIEW_ENV", "OVERVIEW_PROVIDER", "OVERVIEW_STORE_DRIVER", "OVERVIEW_STORE_PATH", "OVERVIEW_PROMPTS_FILE", "OVERVIEW_OVERVIEW_GENERATOR"} {
		t.Setenv(key, "")
	}
	root := t.TempDir()
	_, err := run(t, "--root", root, "init", "--provider", "loopback", "--store-path", filepath.Join(root, "summaries.db"))
	require.NoError(t, err)
	return root
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "gatewayctl version="), out)
}

func TestInitRefusesOverwrite(t *testing.T) {
	root := setup(t)
	_, err := run(t, "--root", root, "init")
	assert.Error(t, err)
	_, err = run(t, "--root", root, "init", "--force", "--provider", "loopback")
	assert.NoError(t, err)
}

func TestRefreshThenGate(t *testing.T) {
	root := setup(t)
	gh := fakeGitHub(t)
	t.Setenv("OVERVIEW_GITHUB_BASE_URL", gh.URL)

	out, err := run(t, "--root", root, "refresh", "acme/board")
	require.NoError(t, err)
	var report struct {
		Repo        string   `json:"repo"`
		Processed   int      `json:"processed"`
		Errors      []string `json:"errors"`
		RateLimited bool     `json:"rate_limited"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "acme/board", report.Repo)
	assert.Equal(t, 2, report.Processed)
	assert.Empty(t, report.Errors)
	assert.False(t, report.RateLimited)

	out, err = run(t, "--root", root, "gate", "acme/board", "c3")
	require.NoError(t, err)
	var gate map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &gate))
	assert.Equal(t, true, gate["stored"])
	assert.Equal(t, false, gate["needs_processing"])
	assert.Equal(t, "https://github.com/acme/board.git", gate["repo_url"])

	out, err = run(t, "--root", root, "refresh", "--cached", "acme/board")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 0, report.Processed)
}

func TestGateUnknownCommit(t *testing.T) {
	root := setup(t)
	out, err := run(t, "--root", root, "gate", "acme/board", "deadbeef")
	require.NoError(t, err)
	assert.Contains(t, out, `"needs_processing": true`)
	assert.Contains(t, out, `"stored": false`)
}

func TestRefreshRejectsBadRepo(t *testing.T) {
	_, err := run(t, "refresh", "not-a-repo")
	assert.Error(t, err)
}

func TestChatLoopback(t *testing.T) {
	root := setup(t)
	out, err := run(t, "--root", root, "chat", "is", "R12", "a", "pull-up?")
	require.NoError(t, err)
	assert.Equal(t, "[loopback] is R12 a pull-up?\n", out)
}
