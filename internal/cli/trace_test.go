package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedLog writes an emission, a response and a drop to db.
func seedLog(t *testing.T, db string) string {
	t.Helper()
	runPassJSON(t, "tick", testCatalog, "--tick", "1", "--db", db)
	pass := runPassJSON(t, "event", testCatalog, "--type", "pod_drawdown", "--payload", drawdownPayload, "--db", db)
	id := pass.Emitted[0].ID
	_, _, err := execute(t, "respond", id, "cut", "--db", db)
	require.NoError(t, err)
	runPassJSON(t, "event", testCatalog, "--type", "pod_drawdown", "--payload", `{"drawdown_pct":15,"allocation":10}`, "--db", db)
	return id
}

func TestTrace_JSON(t *testing.T) {
	db := tempDB(t)
	id := seedLog(t, db)

	out, _, err := execute(t, "trace", "--db", db, "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeResponse(t, out, &result)

	require.Len(t, result.Timeline, 4)
	types := make([]string, len(result.Timeline))
	for i, ev := range result.Timeline {
		types[i] = ev.Type
	}
	assert.Equal(t, []string{"emission", "emission", "response", "drop"}, types)

	assert.Equal(t, "news-breaking-always", result.Timeline[0].MessageID)
	assert.Equal(t, int64(1), result.Timeline[0].Tick)
	assert.Equal(t, id, result.Timeline[1].ID)
	assert.Equal(t, "pod_drawdown", result.Timeline[1].EventType)
	assert.Equal(t, "cut", result.Timeline[2].Key)
	assert.Equal(t, int64(3), result.Timeline[2].Seq)
	assert.Equal(t, "MISSING_VARIABLE", result.Timeline[3].Code)

	assert.Empty(t, result.Pending)
	assert.Equal(t, TraceStats{TotalEvents: 4, Emissions: 2, Responses: 1, Drops: 1}, result.Stats)
}

func TestTrace_FilterByMessage(t *testing.T) {
	db := tempDB(t)
	seedLog(t, db)

	out, _, err := execute(t, "trace", "--db", db, "--message", "email-drawdown", "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeResponse(t, out, &result)
	assert.Equal(t, "email-drawdown", result.MessageID)
	assert.Equal(t, 3, result.Stats.TotalEvents)
	assert.Equal(t, 1, result.Stats.Emissions)
	assert.Equal(t, 1, result.Stats.Responses)
	assert.Equal(t, 1, result.Stats.Drops)
}

func TestTrace_PendingResponse(t *testing.T) {
	db := tempDB(t)
	pass := runPassJSON(t, "event", testCatalog, "--type", "pod_drawdown", "--payload", drawdownPayload, "--db", db)

	out, _, err := execute(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "=== Pending ===")
	assert.Contains(t, out, "email-drawdown [cut|hold]")
	assert.Contains(t, out, truncateID(pass.Emitted[0].ID))
	assert.Contains(t, out, "Pending:      1")
}

func TestTrace_Text(t *testing.T) {
	db := tempDB(t)
	seedLog(t, db)

	out, _, err := execute(t, "trace", "--db", db, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] EMIT news-breaking-always [newswire] tick=1")
	assert.Contains(t, out, "[2] EMIT email-drawdown [email] event=pod_drawdown")
	assert.Contains(t, out, "Content: {from=Risk Desk, subject=Drawdown Alert: Alpha}")
	assert.Contains(t, out, "RESP")
	assert.Contains(t, out, "[3] DROP email-drawdown MISSING_VARIABLE event=pod_drawdown")
	assert.Contains(t, out, "Error: MISSING_VARIABLE")
	assert.Contains(t, out, "(none)")
}

func TestTrace_EmptyLog(t *testing.T) {
	db := tempDB(t)

	out, _, err := execute(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "No events found.\n", out)

	out, _, err = execute(t, "trace", "--db", db, "--message", "email-drawdown")
	require.NoError(t, err)
	assert.Equal(t, "No events found for message: email-drawdown\n", out)
}

func TestTrace_RequiresDatabase(t *testing.T) {
	_, _, err := execute(t, "trace")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTruncateID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"short", "short"},
		{"exactly-16-chars", "exactly-16-chars"},
		{"0192f0c4-5b7e-7a10-9c1d-3f2a1b4c5d6e", "0192f0c4...1b4c5d6e"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, truncateID(tc.input))
	}
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, "{}", formatArgs(nil))
	assert.Equal(t, "{a=1, b=2, c=3}", formatArgs(map[string]any{"b": 2, "a": 1, "c": 3}))

	nested := map[string]any{
		"pod":  map[string]any{"name": "Alpha", "tags": []any{"macro", 2}},
		"flag": true,
	}
	assert.Equal(t, "{flag=true, pod={name=Alpha, tags=[macro, 2]}}", formatArgs(nested))
}
