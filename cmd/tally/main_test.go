package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/GoCodeAlone/tally/schedule"
	"github.com/GoCodeAlone/tally/task"
)

// runCLI executes the root command against srv and returns stdout.
func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--server", srv.URL, "--token", "tok"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestTasksCommand(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tasks":
			gotQuery = r.URL.RawQuery
			gotAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode([]*task.Task{{
				ID: "t-1", Name: "Inventory", Department: "Ops",
				Assignees: task.NewAssignees("alice", "bob"), Status: "To Do",
				Deadline: civil.Date{Year: 2020, Month: 1, Day: 1}, TotalUnits: 4, CompletedUnits: 1,
			}})
		case "/api/vocabulary":
			w.Write([]byte(`{"departments":["Ops"],"statuses":["To Do","Done"],"initial_status":"To Do","terminal_status":"Done"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "tasks", "--department", "Ops")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotQuery != "department=Ops" {
		t.Errorf("query = %q", gotQuery)
	}
	for _, want := range []string{"Inventory", "alice,bob", "1/4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTaskUpdateCommand_SendsOnlyChangedFields(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/tasks/t-1" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"id":"t-1","name":"Inventory","status":"To Do","completed_units":3,"total_units":4}`))
	}))
	defer srv.Close()

	out, err := runCLI(t, srv, "task", "update", "t-1", "--done", "3")
	if err != nil {
		t.Fatalf("task update: %v", err)
	}
	if _, ok := body["status"]; ok {
		t.Errorf("status sent although not set: %v", body)
	}
	if body["completed_units"] != float64(3) {
		t.Errorf("completed_units = %v", body["completed_units"])
	}
	if !strings.Contains(out, "3/4") {
		t.Errorf("output = %q", out)
	}
}

func TestServerErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"manager role required"}`))
	}))
	defer srv.Close()

	_, err := runCLI(t, srv, "task", "delete", "t-1")
	if err == nil || !strings.Contains(err.Error(), "403: manager role required") {
		t.Errorf("err = %v", err)
	}
}

func TestVocabAdd_Duplicate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"added":false}`))
	}))
	defer srv.Close()

	if _, err := runCLI(t, srv, "vocab", "add", "department", "HR"); err == nil {
		t.Error("expected an error for a duplicate value")
	}
}

func TestFrequencyLabel(t *testing.T) {
	cases := []struct {
		f    schedule.Frequency
		days schedule.WeekdaySet
		want string
	}{
		{schedule.Weekly, 0, "Weekly"},
		{schedule.Monthly, 0, "Monthly"},
		{schedule.Weekdays, schedule.NewWeekdaySet(1, 3), "Weekdays: Mon,Wed"},
	}
	for _, c := range cases {
		if got := frequencyLabel(c.f, c.days); got != c.want {
			t.Errorf("frequencyLabel(%s) = %q, want %q", c.f, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate("a rather long task name", 8); got != "a rathe…" {
		t.Errorf("got %q", got)
	}
}
