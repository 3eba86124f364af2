package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinition_AllActions(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"cron": "*/5 * * * * *",
		"call": {"name": "billing.sweep", "data": {"dry": true}},
		"emit": {"name": "tick", "data": 1},
		"setRecord": {"name": "status/sweeper", "data": {"state": "idle"}},
		"updateRecord": {"name": "status/sweeper", "data": {"runs": 2, "ok": true}},
		"deleteRecord": "locks/sweeper"
	}`))
	require.NoError(t, err)
	require.NotNil(t, def)

	assert.Equal(t, "*/5 * * * * *", def.Cron)
	assert.Equal(t, "billing.sweep", def.Call.Name)
	assert.JSONEq(t, `{"dry": true}`, string(def.Call.Data))
	assert.Equal(t, "tick", def.Emit.Name)
	assert.JSONEq(t, `1`, string(def.Emit.Data))
	assert.JSONEq(t, `"idle"`, string(def.SetRecord.Data["state"]))
	assert.Len(t, def.UpdateRecord.Data, 2)
	assert.Equal(t, "locks/sweeper", def.DeleteRecord)
	assert.Equal(t, []string{ActionCall, ActionEmit, ActionSetRecord, ActionUpdateRecord, ActionDeleteRecord}, def.Actions())
}

func TestParseDefinition_Empty(t *testing.T) {
	for _, in := range []string{"", "  ", "null"} {
		def, err := ParseDefinition([]byte(in))
		require.NoError(t, err, "input %q", in)
		assert.Nil(t, def, "input %q", in)
	}
}

func TestParseDefinition_Malformed(t *testing.T) {
	_, err := ParseDefinition([]byte(`{"cron": 5}`))
	require.Error(t, err)
}

func TestDefinitionSchedule_Cron(t *testing.T) {
	def := &Definition{Cron: "0 * * * *"}
	sched, err := def.Schedule()
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", sched.Cron)
	assert.False(t, sched.IsOnce())
	assert.Equal(t, "0 * * * *", sched.String())
}

func TestDefinitionSchedule_OnString(t *testing.T) {
	def, err := ParseDefinition([]byte(`{"on": "2026-11-01T10:00:00Z"}`))
	require.NoError(t, err)

	sched, err := def.Schedule()
	require.NoError(t, err)
	assert.True(t, sched.IsOnce())
	assert.True(t, sched.At.Equal(time.Date(2026, 11, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDefinitionSchedule_OnLooseLayout(t *testing.T) {
	def, err := ParseDefinition([]byte(`{"on": "2026-11-01 10:00:00"}`))
	require.NoError(t, err)

	sched, err := def.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 2026, sched.At.Year())
	assert.Equal(t, time.November, sched.At.Month())
	assert.Equal(t, 10, sched.At.Hour())
}

func TestDefinitionSchedule_OnEpochMillis(t *testing.T) {
	def, err := ParseDefinition([]byte(`{"on": 1793527200000}`))
	require.NoError(t, err)

	sched, err := def.Schedule()
	require.NoError(t, err)
	assert.Equal(t, int64(1793527200000), sched.At.UnixMilli())
}

func TestDefinitionSchedule_UnsetOnFallsBackToCron(t *testing.T) {
	for _, on := range []string{`""`, `0`, `null`, `false`} {
		t.Run(on, func(t *testing.T) {
			def, err := ParseDefinition([]byte(`{"on": ` + on + `, "cron": "* * * * *"}`))
			require.NoError(t, err)

			sched, err := def.Schedule()
			require.NoError(t, err)
			assert.False(t, sched.IsOnce())
			assert.Equal(t, "* * * * *", sched.Cron)
		})
	}
}

func TestDefinitionSchedule_Invalid(t *testing.T) {
	tests := []struct {
		name string
		def  *Definition
	}{
		{"nil", nil},
		{"missing schedule", &Definition{Emit: &EventOperation{Name: "tick"}}},
		{"both set", &Definition{Cron: "* * * * *", On: NewInstant(time.Now())}},
		{"bad on", &Definition{On: &Instant{raw: json.RawMessage(`"not a date"`)}}},
		{"empty on", &Definition{On: &Instant{raw: json.RawMessage(`""`)}}},
		{"zero on", &Definition{On: &Instant{raw: json.RawMessage(`0`)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.def.Schedule()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDefinition))
			assert.Error(t, tt.def.Validate())
		})
	}
}

func TestInstant_RoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 16, 12, 30, 0, 0, time.UTC)
	def := &Definition{On: NewInstant(at)}

	data, err := json.Marshal(def)
	require.NoError(t, err)

	parsed, err := ParseDefinition(data)
	require.NoError(t, err)
	sched, err := parsed.Schedule()
	require.NoError(t, err)
	assert.True(t, sched.At.Equal(at))
}

func TestDefinitionPath(t *testing.T) {
	assert.Equal(t, "cron/nightly", DefinitionPath("nightly"))
}
