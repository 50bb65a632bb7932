package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, providerURL string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
api_bind = ""

[providers.openai]
api_key = "test"
base_url = %q
model = "gpt-4o-mini"
input_cost_per_1m = 0.15
output_cost_per_1m = 0.6
`, filepath.Join(dir, "data"), filepath.Join(dir, "logs"), providerURL)

	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func fakeProviderServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"content": "{\"title\":\"Draft\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 80}
		}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSubmitApproveLifecycle(t *testing.T) {
	srv := fakeProviderServer(t)
	cfgPath := writeTestConfig(t, srv.URL)

	out, err := runCLI(t, "--config", cfgPath, "submit", "ocean", "cleanup", "--style", "documentary")
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Queued job 1: Ocean Cleanup") {
		t.Fatalf("submit output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "list")
	if err != nil {
		t.Fatalf("list: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Ocean Cleanup") || !strings.Contains(out, "pending_script") {
		t.Fatalf("list output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "advance", "1")
	if err != nil {
		t.Fatalf("advance: %v\n%s", err, out)
	}
	if !strings.Contains(out, "awaiting_script_approval") {
		t.Fatalf("advance output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "show", "1")
	if err != nil {
		t.Fatalf("show: %v\n%s", err, out)
	}
	for _, want := range []string{"awaiting_script_approval", "script approval", "script", "$"} {
		if !strings.Contains(out, want) {
			t.Fatalf("show output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, "--config", cfgPath, "approve", "1")
	if err != nil {
		t.Fatalf("approve: %v\n%s", err, out)
	}
	if !strings.Contains(out, "generating_media") {
		t.Fatalf("approve output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "show", "1", "--payload")
	if err != nil {
		t.Fatalf("show payload: %v\n%s", err, out)
	}
	if !strings.Contains(out, `{"title":"Draft"}`) {
		t.Fatalf("payload output = %q", out)
	}
}

func TestRejectRequiresNotes(t *testing.T) {
	srv := fakeProviderServer(t)
	cfgPath := writeTestConfig(t, srv.URL)

	if _, err := runCLI(t, "--config", cfgPath, "submit", "bees"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := runCLI(t, "--config", cfgPath, "advance", "1"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if _, err := runCLI(t, "--config", cfgPath, "reject", "1"); err == nil {
		t.Fatal("expected reject without notes to fail")
	}

	out, err := runCLI(t, "--config", cfgPath, "reject", "1", "--notes", "shorter hook")
	if err != nil {
		t.Fatalf("reject: %v\n%s", err, out)
	}
	if !strings.Contains(out, "pending_script") || !strings.Contains(out, "revision 2") {
		t.Fatalf("reject output = %q", out)
	}
}

func TestCancelCommand(t *testing.T) {
	srv := fakeProviderServer(t)
	cfgPath := writeTestConfig(t, srv.URL)

	if _, err := runCLI(t, "--config", cfgPath, "submit", "glaciers"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	out, err := runCLI(t, "--config", cfgPath, "cancel", "1")
	if err != nil {
		t.Fatalf("cancel: %v\n%s", err, out)
	}
	if !strings.Contains(out, "cancelled") {
		t.Fatalf("cancel output = %q", out)
	}
	if _, err := runCLI(t, "--config", cfgPath, "cancel", "1"); err == nil {
		t.Fatal("expected second cancel to fail")
	}
}

func TestCacheStatsCommand(t *testing.T) {
	srv := fakeProviderServer(t)
	cfgPath := writeTestConfig(t, srv.URL)

	if _, err := runCLI(t, "--config", cfgPath, "submit", "wetlands"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := runCLI(t, "--config", cfgPath, "advance", "1"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	out, err := runCLI(t, "--config", cfgPath, "cache", "stats")
	if err != nil {
		t.Fatalf("cache stats: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Entries") || !strings.Contains(out, "1") {
		t.Fatalf("cache stats output = %q", out)
	}

	out, err = runCLI(t, "--config", cfgPath, "cache", "clear")
	if err != nil {
		t.Fatalf("cache clear: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Cleared 1 cache entries") {
		t.Fatalf("cache clear output = %q", out)
	}
}

func TestTopicsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"content": "[{\"topic\":\"Desert farming\",\"why\":\"water scarcity angle\",\"estimated_views\":\"300k\"}]"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 60, "completion_tokens": 90}
		}`)
	}))
	t.Cleanup(srv.Close)
	cfgPath := writeTestConfig(t, srv.URL)

	out, err := runCLI(t, "--config", cfgPath, "topics", "--category", "agriculture", "--count", "1")
	if err != nil {
		t.Fatalf("topics: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Desert farming") || !strings.Contains(out, "300k") {
		t.Fatalf("topics output = %q", out)
	}
}

func TestProvidersCommand(t *testing.T) {
	srv := fakeProviderServer(t)
	cfgPath := writeTestConfig(t, srv.URL)

	out, err := runCLI(t, "--config", cfgPath, "providers")
	if err != nil {
		t.Fatalf("providers: %v\n%s", err, out)
	}
	if !strings.Contains(out, "openai") || !strings.Contains(out, "script_generation") {
		t.Fatalf("providers output = %q", out)
	}
}

func TestConfigInitCommand(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
	if _, err := runCLI(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite init: %v", err)
	}
}

func TestUnknownStageFilterFails(t *testing.T) {
	srv := fakeProviderServer(t)
	cfgPath := writeTestConfig(t, srv.URL)

	if _, err := runCLI(t, "--config", cfgPath, "list", "--stage", "bogus"); err == nil {
		t.Fatal("expected unknown stage filter to fail")
	}
}
