package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/swarmling/swarmling/internal/task"
)

func TestBuildTasks(t *testing.T) {
	scenario := &task.Scenario{Endpoints: []task.Endpoint{
		{Name: "a", Method: "GET", URL: "http://x/a", Weight: 1},
		{Name: "b", Method: "POST", URL: "http://x/b", Weight: 3},
	}}

	tasks := buildTasks(scenario)
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].Name() != "a" || tasks[0].Weight() != 1 {
		t.Errorf("task 0 = %q/%d", tasks[0].Name(), tasks[0].Weight())
	}
	if tasks[1].Name() != "b" || tasks[1].Weight() != 3 {
		t.Errorf("task 1 = %q/%d", tasks[1].Name(), tasks[1].Weight())
	}
}

func TestRunRejectsMissingScenario(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error without --scenario")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	content := "endpoints:\n  - method: GET\n    url: http://x\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--scenario", path, "--buffer-size", "1000"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for non-power-of-two buffer size")
	}
}
