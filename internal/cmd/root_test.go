package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesolab/batchkeeper/pkg/tracker"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	SetVersionInfo("1.2.0", "abc123", "2026-08-25")

	assert.Equal(t, "1.2.0", versionInfo.Version)
	assert.Equal(t, "abc123", versionInfo.Commit)
	assert.Equal(t, "2026-08-25", versionInfo.BuildDate)
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(foundry.ExitInvalidArgument, "Invalid --kind value", cause)

	var coded *cliError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, foundry.ExitInvalidArgument, coded.code)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Invalid --kind value")
	assert.Contains(t, err.Error(), fmt.Sprintf("exit code %d", foundry.ExitInvalidArgument))
}

func TestStateWord(t *testing.T) {
	tests := []struct {
		name  string
		state tracker.State
		want  string
	}{
		{name: "idle", state: tracker.State{Manager: tracker.UnownedID}, want: "idle"},
		{name: "running", state: tracker.State{Running: true, Manager: 7}, want: "running"},
		{name: "complete", state: tracker.State{Complete: true, Manager: tracker.UnownedID}, want: "complete"},
		{name: "error", state: tracker.State{Error: true, Manager: tracker.UnownedID}, want: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateWord(tt.state))
		})
	}
}

func TestManagerWord(t *testing.T) {
	assert.Equal(t, "-", managerWord(tracker.UnownedID))
	assert.Equal(t, "42", managerWord(42))
}
