package sim

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-thymio/pkg/protocol"
	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// testConfig disables the physics ticker so tests drive Step themselves.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Robots = []string{"alpha"}
	cfg.Tick = time.Hour
	return cfg
}

func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()

	srv, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return srv, "ws://" + ln.Addr().String() + "/ws"
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
	n  int
}

func dial(t *testing.T, url string) *testClient {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) nextID() string {
	c.n++
	return "req-" + string(rune('a'+c.n))
}

// roundTrip sends a message and returns the reply with the same ID,
// skipping events.
func (c *testClient) roundTrip(msg *protocol.Message) *protocol.Message {
	c.t.Helper()
	data, _ := msg.Bytes()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("write error: %v", err)
	}
	for {
		reply := c.read()
		if reply.ID == msg.ID {
			return reply
		}
	}
}

func (c *testClient) read() *protocol.Message {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read error: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.t.Fatalf("parse error: %v", err)
	}
	return msg
}

// readEvent returns the next message of the given type.
func (c *testClient) readEvent(msgType protocol.MessageType) *protocol.Message {
	c.t.Helper()
	for {
		msg := c.read()
		if msg.Type == msgType && msg.ID == "" {
			return msg
		}
	}
}

func (c *testClient) hello(password string) *protocol.Message {
	msg, _ := protocol.NewHelloMessage(c.nextID(), password, "test")
	return c.roundTrip(msg)
}

func (c *testClient) lock(node string) *protocol.Message {
	msg, _ := protocol.NewLockMessage(c.nextID(), node)
	return c.roundTrip(msg)
}

func errorText(t *testing.T, msg *protocol.Message) string {
	t.Helper()
	if msg.Type != protocol.TypeError {
		t.Fatalf("Type = %s, want error", msg.Type)
	}
	data, _ := msg.GetErrorData()
	return data.Message
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Robots = []string{"a", "a"}
	if _, err := New(cfg, nil); err == nil {
		t.Error("duplicate robot names should be rejected")
	}
}

func TestHelloWelcome(t *testing.T) {
	srv, url := startServer(t, testConfig())
	c := dial(t, url)

	reply := c.hello("")
	if reply.Type != protocol.TypeWelcome {
		t.Fatalf("Type = %s, want welcome", reply.Type)
	}
	data, _ := reply.GetNodesData()
	if len(data.Nodes) != 1 || data.Nodes[0].Name != "alpha" {
		t.Fatalf("nodes = %+v", data.Nodes)
	}
	if data.Nodes[0].ID != srv.Robots()[0].ID() {
		t.Error("node ID should match the robot ID")
	}
	if data.Nodes[0].Status != protocol.StatusAvailable {
		t.Errorf("Status = %s, want available", data.Nodes[0].Status)
	}
}

func TestRequestsBeforeHelloRejected(t *testing.T) {
	_, url := startServer(t, testConfig())
	c := dial(t, url)

	msg, _ := protocol.NewListNodesMessage("x")
	if text := errorText(t, c.roundTrip(msg)); text != "hello required" {
		t.Errorf("error = %q", text)
	}
}

func TestPasswordRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Password = "secret"
	_, url := startServer(t, cfg)

	bad := dial(t, url)
	if text := errorText(t, bad.hello("wrong")); text != "invalid password" {
		t.Errorf("error = %q", text)
	}

	good := dial(t, url)
	if reply := good.hello("secret"); reply.Type != protocol.TypeWelcome {
		t.Errorf("Type = %s, want welcome", reply.Type)
	}
}

func TestLockIsExclusive(t *testing.T) {
	srv, url := startServer(t, testConfig())
	node := srv.Robots()[0].ID()

	a := dial(t, url)
	a.hello("")
	b := dial(t, url)
	b.hello("")

	if reply := a.lock(node); reply.Type != protocol.TypeAck {
		t.Fatalf("a lock: %s", reply.Type)
	}
	if text := errorText(t, b.lock(node)); text != "node busy" {
		t.Errorf("b lock error = %q, want node busy", text)
	}

	msg, _ := protocol.NewSetVariablesMessage("w", node, map[string][]int{thymio.VarMotorLeftTarget: {1}})
	if text := errorText(t, b.roundTrip(msg)); text != "node not locked" {
		t.Errorf("b write error = %q", text)
	}
}

func TestLockReleasedOnDisconnect(t *testing.T) {
	srv, url := startServer(t, testConfig())
	node := srv.Robots()[0].ID()

	a := dial(t, url)
	a.hello("")
	a.lock(node)

	b := dial(t, url)
	b.hello("")

	a.ws.Close()

	ev := b.readEvent(protocol.TypeNodes)
	data, _ := ev.GetNodesData()
	if data.Nodes[0].Status != protocol.StatusAvailable {
		t.Fatalf("Status = %s, want available after disconnect", data.Nodes[0].Status)
	}
	if reply := b.lock(node); reply.Type != protocol.TypeAck {
		t.Errorf("b lock after release: %s", reply.Type)
	}
}

func TestCompileAndRun(t *testing.T) {
	srv, url := startServer(t, testConfig())
	robot := srv.Robots()[0]

	c := dial(t, url)
	c.hello("")
	c.lock(robot.ID())

	run, _ := protocol.NewRunMessage("r0", robot.ID())
	if text := errorText(t, c.roundTrip(run)); text != "no program compiled" {
		t.Errorf("run error = %q", text)
	}

	bad, _ := protocol.NewCompileMessage("c0", robot.ID(), "call leds.top(1)")
	if reply := c.roundTrip(bad); reply.Type != protocol.TypeError {
		t.Errorf("bad compile: Type = %s, want error", reply.Type)
	}

	good, _ := protocol.NewCompileMessage("c1", robot.ID(), "call leds.top(32, 0, 0)")
	if reply := c.roundTrip(good); reply.Type != protocol.TypeAck {
		t.Fatalf("compile: Type = %s, want ack", reply.Type)
	}
	run, _ = protocol.NewRunMessage("r1", robot.ID())
	if reply := c.roundTrip(run); reply.Type != protocol.TypeAck {
		t.Fatalf("run: Type = %s, want ack", reply.Type)
	}

	ev := c.readEvent(protocol.TypeVariables)
	data, _ := ev.GetVariablesData()
	if got := data.Variables["leds.top"]; len(got) != 3 || got[0] != 32 {
		t.Errorf("leds.top = %v", got)
	}
	if got := robot.State().LEDs["leds.top"]; len(got) != 3 || got[0] != 32 {
		t.Errorf("robot leds.top = %v", got)
	}
}

func TestStepPushesToOwner(t *testing.T) {
	srv, url := startServer(t, testConfig())
	robot := srv.Robots()[0]

	c := dial(t, url)
	c.hello("")
	c.lock(robot.ID())

	srv.Step(100 * time.Millisecond)

	ev := c.readEvent(protocol.TypeVariables)
	if ev.Node != robot.ID() {
		t.Errorf("Node = %s, want %s", ev.Node, robot.ID())
	}
	data, _ := ev.GetVariablesData()
	if len(data.Variables[thymio.VarProxHorizontal]) != 7 {
		t.Errorf("prox.horizontal = %v", data.Variables[thymio.VarProxHorizontal])
	}
	if _, ok := data.Variables[thymio.VarTemperature]; !ok {
		t.Error("batch should include temperature")
	}
}

func TestAPIListRobots(t *testing.T) {
	srv, err := New(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	app := srv.App()

	req := httptest.NewRequest("GET", "/api/robots/", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "alpha") {
		t.Error("Response should list robot alpha")
	}

	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Count != 1 {
		t.Errorf("count = %d (%v), want 1", parsed.Count, err)
	}
}

func TestAPIRobotNotFound(t *testing.T) {
	srv, _ := New(testConfig(), nil)

	req := httptest.NewRequest("GET", "/api/robots/missing", nil)
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("Status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketRouteRequiresUpgrade(t *testing.T) {
	srv, _ := New(testConfig(), nil)

	req := httptest.NewRequest("GET", "/ws", nil)
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 426 {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}
