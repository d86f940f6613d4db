package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wablast/wablast/internal/account"
	"github.com/wablast/wablast/internal/campaign"
	"github.com/wablast/wablast/internal/config"
	"github.com/wablast/wablast/internal/events"
	"github.com/wablast/wablast/internal/media"
	"github.com/wablast/wablast/internal/runner"
	"github.com/wablast/wablast/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRuns struct {
	runID       string
	startErr    error
	opErr       error
	status      runner.Status
	lastTask    *campaign.Task
	resumedID   string
	checkpoints []*campaign.Checkpoint
}

func (f *fakeRuns) Start(ctx context.Context, task *campaign.Task) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.lastTask = task
	return f.runID, nil
}

func (f *fakeRuns) StartResumed(ctx context.Context, resumeRunID string, task *campaign.Task) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.resumedID = resumeRunID
	f.lastTask = task
	return f.runID, nil
}

func (f *fakeRuns) Interrupted(ctx context.Context) ([]*campaign.Checkpoint, error) {
	return f.checkpoints, nil
}

func (f *fakeRuns) Pause() error  { return f.opErr }
func (f *fakeRuns) Resume() error { return f.opErr }
func (f *fakeRuns) Stop() error   { return f.opErr }

func (f *fakeRuns) Status() runner.Status { return f.status }

type fakeHistory struct {
	runs     []store.Run
	run      *store.Run
	campaign *store.Campaign
	messages []store.MessageRecord
}

func (f *fakeHistory) GetCampaign(ctx context.Context, id string) (*store.Campaign, error) {
	return f.campaign, nil
}

func (f *fakeHistory) GetRun(ctx context.Context, id string) (*store.Run, error) {
	return f.run, nil
}

func (f *fakeHistory) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	return f.runs, nil
}

func (f *fakeHistory) GetRunMessages(ctx context.Context, runID string) ([]store.MessageRecord, error) {
	return f.messages, nil
}

type fakeAccounts struct {
	statuses map[int]account.Status
}

func (f *fakeAccounts) Status(ctx context.Context, id int) (account.Status, error) {
	return f.statuses[id], nil
}

func (f *fakeAccounts) Statuses(ctx context.Context) (map[int]account.Status, error) {
	return f.statuses, nil
}

func (f *fakeAccounts) ResolveRecipient(ctx context.Context, id int, digits string) (string, error) {
	return digits, nil
}

func (f *fakeAccounts) SendText(ctx context.Context, id int, recipient, text string) error {
	return nil
}

func (f *fakeAccounts) SendMedia(ctx context.Context, id int, recipient string, payload *media.Payload, caption string) error {
	return nil
}

func (f *fakeAccounts) SendPoll(ctx context.Context, id int, recipient, question string, options []string) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T, deps Deps, apiKey string) *Server {
	t.Helper()
	cfg := &config.APIConfig{ListenAddr: ":0", APIKey: apiKey}
	return NewServer(deps, cfg, testLogger())
}

func doRequest(t *testing.T, s *Server, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthNoAuth(t *testing.T) {
	s := newTestServer(t, Deps{Runs: &fakeRuns{}}, "secret")

	rec := doRequest(t, s, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("health status = %q, want ok", resp.Status)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, Deps{Runs: &fakeRuns{}}, "secret")

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/current", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/current", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/current", "secret", nil); rec.Code != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200", rec.Code)
	}

	// X-API-Key works without a Bearer header.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("X-API-Key: status = %d, want 200", rec.Code)
	}
}

func TestStartRun(t *testing.T) {
	runs := &fakeRuns{runID: "run-1"}
	s := newTestServer(t, Deps{Runs: runs}, "")

	task := map[string]any{
		"campaign_id": "c1",
		"messages": []map[string]any{
			{"id": "m1", "recipient_number": "1234567890", "template_text": "hi"},
		},
		"delay": map[string]any{"preset": "short"},
	}
	rec := doRequest(t, s, http.MethodPost, "/api/v1/runs", "", task)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /runs status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp StartRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID != "run-1" || resp.Total != 1 {
		t.Errorf("response = %+v, want run-1 with total 1", resp)
	}
	if runs.lastTask == nil || runs.lastTask.Delay.Preset != "short" {
		t.Error("task was not forwarded to the run service")
	}
}

func TestStartRunGeneratesCampaignID(t *testing.T) {
	runs := &fakeRuns{runID: "run-1"}
	s := newTestServer(t, Deps{Runs: runs}, "")

	task := map[string]any{
		"messages": []map[string]any{
			{"id": "m1", "recipient_number": "1234567890", "template_text": "hi"},
		},
	}
	rec := doRequest(t, s, http.MethodPost, "/api/v1/runs", "", task)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /runs status = %d, want 202", rec.Code)
	}
	if runs.lastTask.CampaignID == "" {
		t.Error("campaign id was not generated")
	}
}

func TestStartRunConflict(t *testing.T) {
	s := newTestServer(t, Deps{Runs: &fakeRuns{startErr: runner.ErrRunActive}}, "")

	task := map[string]any{
		"campaign_id": "c1",
		"messages": []map[string]any{
			{"id": "m1", "recipient_number": "1234567890", "template_text": "hi"},
		},
	}
	rec := doRequest(t, s, http.MethodPost, "/api/v1/runs", "", task)
	if rec.Code != http.StatusConflict {
		t.Errorf("POST /runs status = %d, want 409", rec.Code)
	}
}

func TestStartRunBadBody(t *testing.T) {
	s := newTestServer(t, Deps{Runs: &fakeRuns{}}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST /runs status = %d, want 400", rec.Code)
	}
}

func TestLifecycleNoActiveRun(t *testing.T) {
	s := newTestServer(t, Deps{Runs: &fakeRuns{opErr: runner.ErrNoActiveRun}}, "")

	for _, op := range []string{"pause", "resume", "stop"} {
		rec := doRequest(t, s, http.MethodPost, "/api/v1/runs/current/"+op, "", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("POST %s status = %d, want 404", op, rec.Code)
		}
	}
}

func TestCurrentRunStatus(t *testing.T) {
	runs := &fakeRuns{status: runner.Status{
		Active: true, RunID: "run-1", CampaignID: "c1",
		Total: 10, SentCount: 4, FailedCount: 1,
	}}
	s := newTestServer(t, Deps{Runs: runs}, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/current", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /runs/current status = %d, want 200", rec.Code)
	}
	var st runner.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !st.Active || st.SentCount != 4 {
		t.Errorf("status = %+v, want active with 4 sent", st)
	}
}

func TestRunHistory(t *testing.T) {
	history := &fakeHistory{
		runs: []store.Run{{ID: "run-1", CampaignID: "c1", Status: "completed"}},
		run:  &store.Run{ID: "run-1", CampaignID: "c1", Status: "completed"},
	}
	s := newTestServer(t, Deps{Runs: &fakeRuns{}, History: history}, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/runs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /runs status = %d, want 200", rec.Code)
	}
	var runs []store.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Errorf("runs = %+v, want one run-1", runs)
	}

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/runs?limit=abc", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/run-1", "", nil); rec.Code != http.StatusOK {
		t.Errorf("GET /runs/run-1 status = %d, want 200", rec.Code)
	}

	history.run = nil
	if rec := doRequest(t, s, http.MethodGet, "/api/v1/runs/missing", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET missing run status = %d, want 404", rec.Code)
	}
}

func TestRunHistoryDisabled(t *testing.T) {
	s := newTestServer(t, Deps{Runs: &fakeRuns{}}, "")

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/runs", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /runs status = %d, want 503", rec.Code)
	}
}

func TestAccountsSorted(t *testing.T) {
	accounts := &fakeAccounts{statuses: map[int]account.Status{
		3: {ID: 3, Ready: false, Error: "logged out"},
		1: {ID: 1, Ready: true},
	}}
	s := newTestServer(t, Deps{Runs: &fakeRuns{}, Accounts: accounts}, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/accounts", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /accounts status = %d, want 200", rec.Code)
	}
	var resp AccountsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(resp.Accounts))
	}
	if resp.Accounts[0].ID != 1 || resp.Accounts[1].ID != 3 {
		t.Errorf("accounts not sorted by id: %+v", resp.Accounts)
	}
}

type fakeSchedules struct {
	added   map[string]string
	removed []string
}

func (f *fakeSchedules) Add(id, spec string, task *campaign.Task) error {
	if f.added == nil {
		f.added = make(map[string]string)
	}
	f.added[id] = spec
	return nil
}

func (f *fakeSchedules) Remove(id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeSchedules) List() []runner.ScheduleInfo {
	infos := make([]runner.ScheduleInfo, 0, len(f.added))
	for id, spec := range f.added {
		infos = append(infos, runner.ScheduleInfo{ID: id, Spec: spec})
	}
	return infos
}

func TestSchedules(t *testing.T) {
	schedules := &fakeSchedules{}
	s := newTestServer(t, Deps{Runs: &fakeRuns{}, Schedules: schedules}, "")

	body := map[string]any{
		"id":   "daily",
		"spec": "0 9 * * *",
		"task": map[string]any{
			"campaign_id": "c1",
			"messages": []map[string]any{
				{"id": "m1", "recipient_number": "1234567890", "template_text": "hi"},
			},
		},
	}
	if rec := doRequest(t, s, http.MethodPost, "/api/v1/schedules", "", body); rec.Code != http.StatusCreated {
		t.Fatalf("POST /schedules status = %d, want 201", rec.Code)
	}
	if schedules.added["daily"] != "0 9 * * *" {
		t.Errorf("schedule not registered: %+v", schedules.added)
	}

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/schedules", "", nil); rec.Code != http.StatusOK {
		t.Errorf("GET /schedules status = %d, want 200", rec.Code)
	}
	if rec := doRequest(t, s, http.MethodDelete, "/api/v1/schedules/daily", "", nil); rec.Code != http.StatusOK {
		t.Errorf("DELETE /schedules status = %d, want 200", rec.Code)
	}
	if len(schedules.removed) != 1 || schedules.removed[0] != "daily" {
		t.Errorf("removed = %v, want [daily]", schedules.removed)
	}
}

func TestEventsStream(t *testing.T) {
	bus := events.NewBus(testLogger())
	s := newTestServer(t, Deps{Runs: &fakeRuns{}, Bus: bus}, "")

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	// Give the handler time to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(events.Event{Type: events.TypeStarted, CampaignID: "c1", RunID: "run-1"})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}

	if eventLine != "started" {
		t.Errorf("event = %q, want started", eventLine)
	}
	var ev events.Event
	if err := json.Unmarshal([]byte(dataLine), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.CampaignID != "c1" || ev.RunID != "run-1" {
		t.Errorf("event = %+v, want campaign c1 run run-1", ev)
	}
}

func TestStartRunResume(t *testing.T) {
	runs := &fakeRuns{runID: "run-2"}
	s := newTestServer(t, Deps{Runs: runs}, "")

	body := map[string]any{
		"campaign_id":   "c1",
		"resume_run_id": "run-1",
		"messages": []map[string]any{
			{"id": "m1", "recipient_number": "1234567890", "template_text": "hi"},
			{"id": "m2", "recipient_number": "1234567891", "template_text": "hi"},
		},
	}
	rec := doRequest(t, s, http.MethodPost, "/api/v1/runs", "", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /runs status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if runs.resumedID != "run-1" {
		t.Errorf("resumed run id = %q, want run-1", runs.resumedID)
	}
	var resp StartRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID != "run-2" {
		t.Errorf("run id = %q, want run-2", resp.RunID)
	}
}

func TestCheckpointsEndpoint(t *testing.T) {
	runs := &fakeRuns{checkpoints: []*campaign.Checkpoint{
		{RunID: "run-1", CampaignID: "c1", LastIndex: 4, SentCount: 5},
	}}
	s := newTestServer(t, Deps{Runs: runs}, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/checkpoints", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /checkpoints status = %d, want 200", rec.Code)
	}
	var cps []campaign.Checkpoint
	if err := json.Unmarshal(rec.Body.Bytes(), &cps); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(cps) != 1 || cps[0].RunID != "run-1" || cps[0].LastIndex != 4 {
		t.Errorf("checkpoints = %+v, want run-1 at index 4", cps)
	}

	// No interrupted runs means an empty list, not null.
	runs.checkpoints = nil
	rec = doRequest(t, s, http.MethodGet, "/api/v1/checkpoints", "", nil)
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty checkpoints body = %q, want []", got)
	}
}

type fakeQuota struct {
	counts map[int][2]int
}

func (f *fakeQuota) Count(id int) (int, int) {
	c := f.counts[id]
	return c[0], c[1]
}

func TestLimitsEndpoint(t *testing.T) {
	accounts := &fakeAccounts{statuses: map[int]account.Status{
		2: {ID: 2, Ready: true},
		1: {ID: 1, Ready: true},
	}}
	quota := &fakeQuota{counts: map[int][2]int{
		1: {3, 12},
		2: {0, 7},
	}}
	s := newTestServer(t, Deps{Runs: &fakeRuns{}, Accounts: accounts, Quota: quota}, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/limits", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /limits status = %d, want 200", rec.Code)
	}
	var limits []AccountLimit
	if err := json.Unmarshal(rec.Body.Bytes(), &limits); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(limits) != 2 {
		t.Fatalf("limits = %d entries, want 2", len(limits))
	}
	if limits[0].ID != 1 || limits[0].HourCount != 3 || limits[0].DayCount != 12 {
		t.Errorf("limits[0] = %+v, want account 1 with 3/12", limits[0])
	}
	if limits[1].ID != 2 || limits[1].DayCount != 7 {
		t.Errorf("limits[1] = %+v, want account 2 with day count 7", limits[1])
	}
}

func TestLimitsDisabled(t *testing.T) {
	s := newTestServer(t, Deps{Runs: &fakeRuns{}}, "")

	if rec := doRequest(t, s, http.MethodGet, "/api/v1/limits", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /limits status = %d, want 503", rec.Code)
	}
}

func TestAccountsLastChecked(t *testing.T) {
	accounts := &fakeAccounts{statuses: map[int]account.Status{
		1: {ID: 1, Ready: true},
		2: {ID: 2, Ready: false},
	}}
	monitor := account.NewMonitor(accounts, testLogger())
	// Prime the diagnostic cache for account 1 only.
	monitor.Ready(context.Background(), 1)

	s := newTestServer(t, Deps{Runs: &fakeRuns{}, Accounts: accounts, Monitor: monitor}, "")

	rec := doRequest(t, s, http.MethodGet, "/api/v1/accounts", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /accounts status = %d, want 200", rec.Code)
	}
	var resp AccountsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(resp.Accounts))
	}
	if resp.Accounts[0].LastChecked.IsZero() {
		t.Error("account 1 last_checked is zero, want the check time")
	}
	if !resp.Accounts[1].LastChecked.IsZero() {
		t.Error("account 2 last_checked is set, want zero (never checked)")
	}
}
