package maestro

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aservis/maestro/internal/config"
	"github.com/aservis/maestro/internal/ctxstore"
	"github.com/aservis/maestro/internal/jobs"
	"github.com/aservis/maestro/internal/services"
	"github.com/aservis/maestro/internal/tools"
)

type fakeGateway struct {
	lastText  string
	lastIface string
	response  string
	err       error
}

func (g *fakeGateway) HandleCommand(_ context.Context, text, sessionID, userID, iface string) (string, string, error) {
	g.lastText = text
	g.lastIface = iface
	if g.err != nil {
		return "", "", g.err
	}
	if sessionID == "" {
		sessionID = "sess_0123456789abcdef"
	}
	return g.response, sessionID, nil
}

type dropRecorder struct {
	dropped []string
}

func (d *dropRecorder) Forget(name string) { d.dropped = append(d.dropped, name) }

func run(t *testing.T, tool tools.Tool, input string) map[string]interface{} {
	t.Helper()
	out, err := tool.Execute(context.Background(), json.RawMessage(input))
	if err != nil {
		t.Fatalf("%s failed: %v", tool.Name(), err)
	}
	result, ok := out.(map[string]interface{})
	if !ok {
		t.Fatalf("%s returned %T, expected a map", tool.Name(), out)
	}
	return result
}

func TestGetToolsRegistersCleanly(t *testing.T) {
	reg := tools.NewRegistry()
	for _, tool := range GetTools(Deps{}) {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	if reg.Len() != 12 {
		t.Errorf("expected 12 tools, got %d", reg.Len())
	}
	for _, name := range []string{
		"process_command", "download_file", "job_status", "abort_job",
		"list_jobs", "register_service", "unregister_service",
		"list_services", "create_session", "get_session",
		"set_session_variable", "server_stats",
	} {
		if !reg.Has(name) {
			t.Errorf("missing tool %s", name)
		}
	}
}

func TestToolSchemasParse(t *testing.T) {
	for _, tool := range GetTools(Deps{}) {
		var schema map[string]interface{}
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			t.Errorf("%s schema is not valid JSON: %v", tool.Name(), err)
		}
		if schema["type"] != "object" {
			t.Errorf("%s schema type: %v", tool.Name(), schema["type"])
		}
	}
}

func TestReadOnlyAnnotations(t *testing.T) {
	readOnly := map[string]bool{
		"job_status": true, "list_jobs": true, "list_services": true,
		"get_session": true, "server_stats": true,
	}
	for _, tool := range GetTools(Deps{}) {
		annotated, ok := tool.(tools.AnnotatedTool)
		if !ok {
			t.Errorf("%s does not expose annotations", tool.Name())
			continue
		}
		hints := annotated.Annotations()
		if hints["readOnlyHint"] != readOnly[tool.Name()] {
			t.Errorf("%s readOnlyHint = %v", tool.Name(), hints["readOnlyHint"])
		}
		if annotated.Title() == "" {
			t.Errorf("%s has no title", tool.Name())
		}
	}
}

func TestProcessCommand(t *testing.T) {
	gw := &fakeGateway{response: "volume set to 40"}
	tool := NewProcessCommandTool(gw)

	result := run(t, tool, `{"text":"set volume to 40","interface":"web"}`)
	if result["response"] != "volume set to 40" {
		t.Errorf("response: %v", result["response"])
	}
	if result["sessionId"] == "" {
		t.Error("expected a session id")
	}
	if gw.lastText != "set volume to 40" || gw.lastIface != "web" {
		t.Errorf("gateway saw %q via %q", gw.lastText, gw.lastIface)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"text":""}`)); err == nil {
		t.Error("empty text should be rejected")
	}
}

func TestDownloadJobLifecycle(t *testing.T) {
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("d", 2048)))
	}))
	t.Cleanup(httpSrv.Close)

	engine := jobs.NewEngine(config.Load().Jobs, 0)
	engine.Start()
	t.Cleanup(engine.Stop)

	dir := t.TempDir()
	download := NewDownloadFileTool(engine, nil, dir)
	status := NewJobStatusTool(engine)
	list := NewListJobsTool(engine, nil)

	result := run(t, download, `{"url":"`+httpSrv.URL+`/payload.bin","priority":"high"}`)
	id, ok := result["sessionId"].(uint32)
	if !ok {
		t.Fatalf("sessionId type %T", result["sessionId"])
	}

	info, err := engine.WaitTerminal(id, 10*time.Second)
	if err != nil {
		t.Fatalf("wait terminal: %v", err)
	}
	if info.Status != jobs.StatusCompleted {
		t.Fatalf("job did not complete: %s (%s)", info.Status, info.ErrorMessage)
	}

	out, err := status.Execute(context.Background(), json.RawMessage(`{"sessionId":`+jsonNumber(id)+`}`))
	if err != nil {
		t.Fatalf("job_status: %v", err)
	}
	snapshot, ok := out.(jobs.JobInfo)
	if !ok {
		t.Fatalf("job_status returned %T", out)
	}
	if snapshot.Status != jobs.StatusCompleted {
		t.Errorf("snapshot status: %s", snapshot.Status)
	}

	listing := run(t, list, `{}`)
	if listing["count"].(int) < 1 {
		t.Errorf("expected at least one job, got %v", listing["count"])
	}

	if _, err := status.Execute(context.Background(), json.RawMessage(`{"sessionId":99999}`)); err == nil {
		t.Error("unknown job should error")
	}
	if _, err := download.Execute(context.Background(), json.RawMessage(`{"url":"ftp://nope"}`)); err == nil {
		t.Error("non-http url should be rejected")
	}
}

func jsonNumber(id uint32) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestAbortJob(t *testing.T) {
	release := make(chan struct{})
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		httpSrv.Close()
	})

	engine := jobs.NewEngine(config.Load().Jobs, 0)
	engine.Start()
	t.Cleanup(engine.Stop)

	download := NewDownloadFileTool(engine, nil, t.TempDir())
	abort := NewAbortJobTool(engine)

	result := run(t, download, `{"url":"`+httpSrv.URL+`/slow.bin"}`)
	id := result["sessionId"].(uint32)

	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := engine.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if info.Status == jobs.StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never started: %s", info.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	out := run(t, abort, `{"sessionId":`+jsonNumber(id)+`}`)
	if out["aborted"] != true {
		t.Errorf("abort result: %v", out)
	}

	info, err := engine.WaitTerminal(id, 5*time.Second)
	if err != nil {
		t.Fatalf("wait terminal: %v", err)
	}
	if info.Status != jobs.StatusAborted {
		t.Errorf("expected aborted, got %s", info.Status)
	}

	if _, err := abort.Execute(context.Background(), json.RawMessage(`{"sessionId":`+jsonNumber(id)+`}`)); err == nil {
		t.Error("aborting a finished job should error")
	}
}

func TestServiceTools(t *testing.T) {
	registry := services.NewRegistry(services.DefaultBreakerConfig())
	drops := &dropRecorder{}

	register := NewRegisterServiceTool(registry)
	unregister := NewUnregisterServiceTool(registry, drops)
	list := NewListServicesTool(registry)

	result := run(t, register, `{"name":"audio-pi","host":"192.168.1.20","port":9100,"capabilities":["audio"]}`)
	if result["registered"] != true || result["address"] != "192.168.1.20:9100" {
		t.Errorf("register result: %v", result)
	}

	listing := run(t, list, `{}`)
	if listing["count"].(int) != 1 {
		t.Fatalf("expected 1 service, got %v", listing["count"])
	}

	if _, err := register.Execute(context.Background(), json.RawMessage(`{"name":"bad","host":"x","port":99999}`)); err == nil {
		t.Error("invalid port should be rejected")
	}

	out := run(t, unregister, `{"name":"audio-pi"}`)
	if out["removed"] != true {
		t.Errorf("unregister result: %v", out)
	}
	if len(drops.dropped) != 1 || drops.dropped[0] != "audio-pi" {
		t.Errorf("client pool not told: %v", drops.dropped)
	}

	if _, err := unregister.Execute(context.Background(), json.RawMessage(`{"name":"audio-pi"}`)); err == nil {
		t.Error("unregistering twice should error")
	}
}

func TestSessionTools(t *testing.T) {
	store, err := ctxstore.NewStore(t.TempDir(), config.Load().Context)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	create := NewCreateSessionTool(store)
	get := NewGetSessionTool(store)
	setVar := NewSetSessionVariableTool(store)

	out, err := create.Execute(context.Background(), json.RawMessage(`{"userId":"kayla","interface":"mobile"}`))
	if err != nil {
		t.Fatalf("create_session: %v", err)
	}
	sess, ok := out.(*ctxstore.SessionContext)
	if !ok {
		t.Fatalf("create_session returned %T", out)
	}
	if sess.UserID != "kayla" || sess.InterfaceType != "mobile" {
		t.Errorf("session fields: %s/%s", sess.UserID, sess.InterfaceType)
	}

	run(t, setVar, `{"sessionId":"`+sess.SessionID+`","key":"room","value":"kitchen"}`)

	out, err = get.Execute(context.Background(), json.RawMessage(`{"sessionId":"`+sess.SessionID+`"}`))
	if err != nil {
		t.Fatalf("get_session: %v", err)
	}
	fetched := out.(*ctxstore.SessionContext)
	if fetched.Variables["room"] != "kitchen" {
		t.Errorf("variable not set: %v", fetched.Variables)
	}

	if _, err := get.Execute(context.Background(), json.RawMessage(`{"sessionId":"sess_ffffffffffffffff"}`)); err == nil {
		t.Error("unknown session should error")
	}
	if _, err := create.Execute(context.Background(), json.RawMessage(`{"interface":"telegraph"}`)); err == nil {
		t.Error("unknown interface should be rejected")
	}
}

func TestServerStats(t *testing.T) {
	engine := jobs.NewEngine(config.Load().Jobs, 0)
	engine.Start()
	t.Cleanup(engine.Stop)

	tool := NewServerStatsTool(engine, func() any {
		return map[string]int{"requestsReceived": 7}
	})

	result := run(t, tool, `{}`)
	if _, ok := result["jobs"].(jobs.EngineStats); !ok {
		t.Errorf("jobs stats type: %T", result["jobs"])
	}
	server, ok := result["server"].(map[string]int)
	if !ok || server["requestsReceived"] != 7 {
		t.Errorf("server stats: %v", result["server"])
	}

	bare := NewServerStatsTool(engine, nil)
	result = run(t, bare, `{}`)
	if _, ok := result["server"]; ok {
		t.Error("nil stats source should omit the server block")
	}
}
