//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/mqtt"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

const repoRootRel = ".."                 // relative to ./e2e
const mainPkgRel = "./cmd/omega-logger" // main.go lives in cmd/omega-logger/

const mqttPort = nat.Port("1883/tcp")

const devicesYAML = `
log_dir: %s
wait: 60
serials: [01234]
devices:
  - serial: 01234
    alias: Lab A
    model: iTHX-W3
`

func TestSmoke_TelemetryToFetch(t *testing.T) {
	repoRoot := repoRootPath(t)
	host, port := startBroker(t)

	logDir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "omega-logger.yaml")
	if err := os.WriteFile(configPath, []byte(fmt.Sprintf(devicesYAML, logDir)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	bin := buildBinary(t, repoRoot)
	addr := pickFreeAddr(t)

	cmd := exec.Command(bin, "serve")
	cmd.Env = append(os.Environ(),
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"HTTP_ADDR="+addr,
		"CONFIG_PATH="+configPath,
		"MQTT_BROKER="+host,
		"MQTT_PORT="+strconv.Itoa(port),
		"MQTT_CLIENT_ID=omega-logger-e2e",
		"MQTT_TOPIC_PREFIX=omega",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	client := &http.Client{Timeout: 2 * time.Second}
	base := "http://" + addr

	waitFor(t, 15*time.Second, "mqtt connected", func() bool {
		var body map[string]string
		return getJSON(client, base+"/healthz", &body) == nil && body["mqtt"] == "connected"
	})

	ts := time.Now().Add(-time.Minute).Truncate(time.Second)
	publishTelemetry(t, host, port, types.Telemetry{
		Serial:    "01234",
		Timestamp: ts,
		Values:    []float64{21.5, 45.2, 9.1},
	})

	q := url.Values{}
	q.Set("serial", "01234")
	q.Set("corrected", "false")
	q.Set("start", ts.Add(-time.Minute).Format("2006-01-02T15:04:05"))
	fetchURL := base + "/fetch?" + q.Encode()

	waitFor(t, 10*time.Second, "telemetry stored", func() bool {
		var body map[string]struct {
			Temperature [][2]any `json:"temperature"`
		}
		if err := getJSON(client, fetchURL, &body); err != nil {
			return false
		}
		rows := body["01234"].Temperature
		return len(rows) == 1 && rows[0][1] == 21.5
	})

	var dbs map[string]struct {
		Alias      string `json:"alias"`
		NumRecords int64  `json:"num_records"`
	}
	if err := getJSON(client, base+"/databases", &dbs); err != nil {
		t.Fatalf("GET /databases: %v", err)
	}
	if len(dbs) != 1 {
		t.Fatalf("databases = %+v", dbs)
	}
	for _, info := range dbs {
		if info.Alias != "Lab A" || info.NumRecords != 1 {
			t.Fatalf("database info = %+v", info)
		}
	}

	stopServer(t, cmd)
}

func startBroker(t *testing.T) (string, int) {
	t.Helper()

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2",
		ExposedPorts: []string{string(mqttPort)},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("broker host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, mqttPort)
	if err != nil {
		t.Fatalf("broker port: %v", err)
	}
	return host, mapped.Int()
}

// publishTelemetry plays the part of an iServer gateway.
func publishTelemetry(t *testing.T, host string, port int, tel types.Telemetry) {
	t.Helper()

	cfg := config.Config{
		MQTTBroker:      host,
		MQTTPort:        port,
		MQTTClientID:    "omega-gateway-e2e",
		MQTTTopicPrefix: "omega",
	}
	gw, err := mqtt.NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("gateway client: %v", err)
	}
	defer gw.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Connect(ctx); err != nil {
		t.Fatalf("gateway connect: %v", err)
	}
	if err := gw.PublishTelemetry(ctx, tel); err != nil {
		t.Fatalf("publish telemetry: %v", err)
	}
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func waitFor(t *testing.T, timeout time.Duration, what string, ok func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ok() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out after %s waiting for %s", timeout, what)
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}

	return repo
}

func buildBinary(t *testing.T, repoRoot string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), "omega-logger")

	build := exec.Command("go", "build", "-o", out, mainPkgRel)
	build.Dir = repoRoot
	build.Env = os.Environ()

	b, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(b))
	}

	return out
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()

	return ln.Addr().String()
}

func stopServer(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatalf("server did not exit in time")
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("server exited non-zero: %v", err)
			}
			t.Fatalf("server wait error: %v", err)
		}
	}
}
