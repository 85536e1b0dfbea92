package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apeichen/fpga-aichip/internal/capture"
	"github.com/apeichen/fpga-aichip/internal/engine"
	"github.com/apeichen/fpga-aichip/internal/governor"
	"github.com/apeichen/fpga-aichip/internal/store"
	"github.com/apeichen/fpga-aichip/internal/xr"
)

// tripEvents drives the four-channel table into SAFE on an iout overload.
func tripEvents() []engine.Event {
	return []engine.Event{
		engine.CaptureEnable(true),
		engine.TriggerEdge(0, 0x1000),
		engine.TriggerEdge(1, 0x0C00),
		engine.TriggerEdge(2, 3000),
		engine.TriggerEdge(3, 0x0200),
		engine.PowerOn(),
		engine.TriggerEdge(capture.Auto, 0x1000),
		engine.TriggerEdge(2, 0x1800),
		engine.Tick(),
	}
}

// recordRun records events as run id into the database at dbPath and seals
// it.
func recordRun(t *testing.T, dbPath, id string, events ...engine.Event) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	e, err := engine.New(xr.DefaultChannels4(), governor.DefaultPolicy(),
		engine.WithRecorder(st),
		engine.WithLabel("cli-test"),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(id)))
	require.NoError(t, err)

	for _, ev := range events {
		_, _ = e.Step(ctx, ev)
	}
	_, err = e.Finish(ctx)
	require.NoError(t, err)
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "xrcore.db")
}
