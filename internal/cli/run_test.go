package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/podwire/internal/engine"
	"github.com/roach88/podwire/internal/metrics"
	"github.com/roach88/podwire/internal/store"
)

// quietEnv clears the PODWIRE_* settings run reads so tests do not pick
// up the caller's environment.
func quietEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PODWIRE_DB", "")
	t.Setenv("PODWIRE_CRON", "")
	t.Setenv("PODWIRE_WATCH", "false")
	t.Setenv("PODWIRE_METRICS_ADDR", "")
}

// runEngineWith executes run over stdin with sequential emission ids and
// returns the decoded output lines.
func runEngineWith(t *testing.T, stdin string, args ...string) ([]RunEvent, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRunCommand(&RunOptions{
		RootOptions: &RootOptions{Format: "json"},
		IDGenerator: engine.NewSequentialGenerator("msg"),
	})
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{testCatalog}, args...))
	require.NoError(t, cmd.Execute(), stderr.String())

	var events []RunEvent
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		var ev RunEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), sc.Text())
		events = append(events, ev)
	}
	return events, stderr.String()
}

func lines(cmds ...string) string {
	return strings.Join(cmds, "\n") + "\n"
}

func TestRun_StdinCommands(t *testing.T) {
	quietEnv(t)

	events, stderr := runEngineWith(t, lines(
		`{"cmd":"tick","tick":1}`,
		`{"cmd":"event","type":"pod_drawdown","payload":{"pod_name":"Alpha","drawdown_pct":12,"allocation":1000000}}`,
		`{"cmd":"respond","emission":"msg-000002","key":"cut"}`,
		`{"cmd":"respond","emission":"msg-000002","key":"hold"}`,
		`not json`,
		`{"cmd":"reload"}`,
		`{"cmd":"event","type":"pod_drawdown","payload":{"drawdown_pct":15,"allocation":10}}`,
	), "--no-watch")

	require.Len(t, events, 6)

	assert.Equal(t, "emission", events[0].Type)
	assert.Equal(t, "msg-000001", events[0].Emission.ID)
	assert.Equal(t, "news-breaking-always", events[0].Emission.MessageID)

	assert.Equal(t, "emission", events[1].Type)
	assert.Equal(t, "email-drawdown", events[1].Emission.MessageID)
	assert.Equal(t, int64(2), events[1].Emission.Seq)

	assert.Equal(t, "response", events[2].Type)
	assert.Equal(t, int64(3), events[2].Response.Seq)
	assert.Equal(t, "reduce_allocation", events[2].Response.Action.Action)

	assert.Equal(t, "response_error", events[3].Type)
	assert.Equal(t, string(engine.ErrCodeAlreadyResolved), events[3].Code)

	assert.Equal(t, "reload", events[4].Type)
	assert.Equal(t, 4, events[4].Definitions)

	assert.Equal(t, "drop", events[5].Type)
	assert.Equal(t, string(engine.ErrCodeMissingVariable), events[5].Drop.Code)

	assert.Contains(t, stderr, "stdin command rejected")
	assert.Contains(t, stderr, "engine stopped")
}

func TestRun_LogsToDatabase(t *testing.T) {
	quietEnv(t)
	db := tempDB(t)

	runEngineWith(t, lines(
		`{"cmd":"tick","tick":5}`,
		`{"cmd":"event","type":"pod_drawdown","payload":{"pod_name":"Alpha","drawdown_pct":12,"allocation":1000000}}`,
		`{"cmd":"event","type":"pod_drawdown","payload":{"drawdown_pct":15,"allocation":10}}`,
	), "--db", db, "--no-watch")

	// A second process resumes the ledger and the clock from the log.
	events, _ := runEngineWith(t, lines(
		`{"cmd":"respond","emission":"msg-000002","key":"hold"}`,
	), "--db", db, "--no-watch")
	require.Len(t, events, 1)
	assert.Equal(t, "response", events[0].Type)
	assert.Equal(t, int64(3), events[0].Response.Seq)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	msgs, err := st.ReadEmissions(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	responses, err := st.ReadResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.ResponseRecord{{EmissionID: "msg-000002", Key: "hold", Seq: 3}}, responses)

	drops, err := st.ReadDrops(ctx)
	require.NoError(t, err)
	require.Len(t, drops, 1)
	assert.Equal(t, "MISSING_VARIABLE", drops[0].Code)

	tick, err := st.GetLastTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), tick)
}

func TestRun_Text(t *testing.T) {
	quietEnv(t)

	var stdout, stderr bytes.Buffer
	cmd := newRunCommand(&RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		IDGenerator: engine.NewSequentialGenerator("msg"),
	})
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(lines(
		`{"cmd":"tick","tick":1}`,
		`{"cmd":"respond","emission":"msg-000009","key":"cut"}`,
		`{"cmd":"reload"}`,
	)))
	cmd.SetArgs([]string{testCatalog, "--no-watch"})
	require.NoError(t, cmd.Execute())

	out := stdout.String()
	assert.Contains(t, out, "✓ msg-000001 news-breaking-always [newswire] seq=1")
	assert.Contains(t, out, "✗ respond msg-000009/cut: UNKNOWN_MESSAGE")
	assert.Contains(t, out, "↻ reloaded 4 definitions")
}

func TestRun_InvalidCron(t *testing.T) {
	quietEnv(t)

	cmd := newRunCommand(&RunOptions{RootOptions: &RootOptions{Format: "text"}})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{testCatalog, "--cron", "every minute"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "PODWIRE_CRON")
}

func TestRun_CatalogNotFound(t *testing.T) {
	quietEnv(t)

	cmd := newRunCommand(&RunOptions{RootOptions: &RootOptions{Format: "text"}})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"testdata/missing.json"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseLineCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    LineCommand
		wantErr string
	}{
		{name: "tick", line: `{"cmd":"tick","tick":7}`, want: LineCommand{Cmd: "tick", Tick: 7}},
		{name: "reload", line: `{"cmd":"reload"}`, want: LineCommand{Cmd: "reload"}},
		{name: "event", line: `{"cmd":"event","type":"month_end","payload":{"month":"May"}}`,
			want: LineCommand{Cmd: "event", Type: "month_end", Payload: map[string]any{"month": "May"}}},
		{name: "respond", line: `{"cmd":"respond","emission":"e1","key":"cut"}`,
			want: LineCommand{Cmd: "respond", Emission: "e1", Key: "cut"}},
		{name: "event without type", line: `{"cmd":"event"}`, wantErr: "requires type"},
		{name: "respond without key", line: `{"cmd":"respond","emission":"e1"}`, wantErr: "requires emission and key"},
		{name: "unknown", line: `{"cmd":"sleep"}`, wantErr: `unknown command "sleep"`},
		{name: "not json", line: `tick 1`, wantErr: "invalid command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLineCommand([]byte(tt.line))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTickCounter(t *testing.T) {
	var c tickCounter
	assert.Equal(t, int64(1), c.Next())

	c.Observe(10)
	assert.Equal(t, int64(11), c.Next())

	c.Observe(4) // older ticks do not move the counter back
	assert.Equal(t, int64(12), c.Next())
}

func TestServeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheus(reg)
	require.NoError(t, err)
	rec.Responded("resolved")

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	addr, err := serveMetrics(gctx, g, "127.0.0.1:0", reg, logger)
	require.NoError(t, err)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "podwire_")

	cancel()
	require.NoError(t, g.Wait())
}
