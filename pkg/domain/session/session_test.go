package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkStepCompletedDeduplicates(t *testing.T) {
	sess := Session{Progress: Progress{TotalSteps: 4}}

	sess.MarkStepCompleted("analyze_repository")
	sess.MarkStepCompleted("generate_dockerfile")
	sess.MarkStepCompleted("analyze_repository")

	assert.Equal(t, []string{"analyze_repository", "generate_dockerfile"}, sess.CompletedSteps())
	assert.Equal(t, 2, sess.Progress.CompletedSteps)
	assert.Equal(t, 50, sess.Progress.Percentage)
}

func TestSetCurrentStep(t *testing.T) {
	var sess Session

	sess.SetCurrentStep("build_image")
	assert.Equal(t, "build_image", sess.CurrentStep())

	sess.SetCurrentStep("")
	assert.Equal(t, "", sess.CurrentStep())
	_, present := sess.WorkflowState[StateKeyCurrentStep]
	assert.False(t, present)
}

func TestAddStepError(t *testing.T) {
	var sess Session

	sess.AddStepError("build_image", "exit status 1")
	sess.AddStepError("push_image", "denied")

	entries, ok := sess.WorkflowState[StateKeyErrors].([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "build_image", first["step"])
	assert.Equal(t, "exit status 1", first["error"])
	assert.Equal(t, 2, sess.Progress.FailedSteps)
}

func TestStepErrorsSurviveJSONRoundTrip(t *testing.T) {
	var sess Session
	sess.AddStepError("build_image", "exit status 1")
	sess.AddStepError("push_image", "denied")

	data, err := json.Marshal(sess)
	require.NoError(t, err)
	var decoded Session
	require.NoError(t, json.Unmarshal(data, &decoded))

	stepErrs := decoded.StepErrors()
	require.Len(t, stepErrs, 2)
	assert.Equal(t, "build_image", stepErrs[0].Step)
	assert.Equal(t, "exit status 1", stepErrs[0].Error)
	assert.Equal(t, "push_image", stepErrs[1].Step)
	assert.False(t, stepErrs[0].Timestamp.IsZero())
}

func TestCompletedStepsSurviveJSONRoundTrip(t *testing.T) {
	var sess Session
	sess.MarkStepCompleted("analyze_repository")
	sess.MarkStepCompleted("build_image")

	data, err := json.Marshal(sess)
	require.NoError(t, err)
	var decoded Session
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, []string{"analyze_repository", "build_image"}, decoded.CompletedSteps())

	// Appending after the round trip must not lose prior entries.
	decoded.MarkStepCompleted("push_image")
	assert.Equal(t, []string{"analyze_repository", "build_image", "push_image"}, decoded.CompletedSteps())
}

func TestExpiryAndActivity(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	expired := Session{Status: StatusActive, ExpiresAt: &past}
	assert.True(t, expired.IsExpired())
	assert.True(t, expired.IsActive())

	live := Session{Status: StatusActive, ExpiresAt: &future}
	assert.False(t, live.IsExpired())

	done := Session{Status: StatusCompleted}
	assert.False(t, done.IsExpired())
	assert.True(t, done.IsTerminal())
}
