package reflection

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/autoloop/internal/locks"
	"github.com/joescharf/autoloop/internal/models"
)

func msgWithTool(name, target string, isErr bool) models.Message {
	return models.Message{
		Role:     "assistant",
		Content:  "working",
		ToolUses: []models.ToolUse{{Name: name, Target: target, IsError: isErr}},
	}
}

func TestAnalyze_RepeatedToolUseOnly(t *testing.T) {
	var messages []models.Message
	for i := 0; i < 4; i++ {
		messages = append(messages, msgWithTool("Bash", "make test", false))
	}
	for len(messages) < 20 {
		messages = append(messages, models.Message{Role: "user", Content: "ok"})
	}

	findings := Analyze("sess-1", messages)
	require.Len(t, findings, 1)
	assert.Equal(t, models.PatternRepeatedToolUse, findings[0].PatternKind)
	assert.Equal(t, "Bash", findings[0].Identifier)
	assert.Equal(t, 4, findings[0].Count)
	assert.NotEmpty(t, findings[0].Suggestion)
}

func TestAnalyze_BelowThresholdsNoFindings(t *testing.T) {
	messages := []models.Message{
		msgWithTool("Bash", "ls", false),
		msgWithTool("Bash", "ls", false),
		msgWithTool("Read", "main.go", false),
		{Role: "user", Content: "looks fine"},
	}
	assert.Empty(t, Analyze("sess-1", messages))
}

func TestAnalyze_ErrorPattern(t *testing.T) {
	var messages []models.Message
	for i := 0; i < 3; i++ {
		messages = append(messages, msgWithTool("Bash", "make build", true))
	}

	findings := Analyze("sess-1", messages)

	var kinds []models.PatternKind
	for _, f := range findings {
		kinds = append(kinds, f.PatternKind)
	}
	// Three Bash invocations also trip the repeated-tool rule.
	assert.Contains(t, kinds, models.PatternErrorPattern)
	assert.Contains(t, kinds, models.PatternRepeatedToolUse)

	for _, f := range findings {
		if f.PatternKind == models.PatternErrorPattern {
			assert.Equal(t, "Bash: make build", f.Identifier)
			assert.Equal(t, 3, f.Count)
		}
	}
}

func TestAnalyze_LongSession(t *testing.T) {
	messages := make([]models.Message, 100)
	for i := range messages {
		messages[i] = models.Message{Role: "user", Content: "hi"}
	}

	findings := Analyze("sess-1", messages)
	require.Len(t, findings, 1)
	assert.Equal(t, models.PatternLongSession, findings[0].PatternKind)
	assert.Equal(t, 100, findings[0].Count)
}

func TestAnalyze_FrustrationOnePerDistinctKeyword(t *testing.T) {
	messages := []models.Message{
		{Role: "user", Content: "It still failing after the fix"},
		{Role: "user", Content: "STILL FAILING again"},
		{Role: "user", Content: "this doesn't work either"},
	}

	findings := Analyze("sess-1", messages)
	require.Len(t, findings, 2)

	var ids []string
	for _, f := range findings {
		assert.Equal(t, models.PatternFrustrationIndicator, f.PatternKind)
		ids = append(ids, f.Identifier)
	}
	assert.ElementsMatch(t, []string{"doesn't work", "still failing"}, ids)
}

func TestAnalyze_RepeatedRead(t *testing.T) {
	var messages []models.Message
	for i := 0; i < 5; i++ {
		messages = append(messages, msgWithTool("Read", "internal/config.go", false))
	}

	findings := Analyze("sess-1", messages)

	var readFinding *models.ReflectionFinding
	for i := range findings {
		if findings[i].PatternKind == models.PatternRepeatedRead {
			readFinding = &findings[i]
		}
	}
	require.NotNil(t, readFinding)
	assert.Equal(t, "internal/config.go", readFinding.Identifier)
	assert.Equal(t, 5, readFinding.Count)
}

func TestMetrics(t *testing.T) {
	messages := []models.Message{
		msgWithTool("Bash", "ls", false),
		msgWithTool("Bash", "make", true),
		{Role: "user", Content: "ok"},
	}
	m := Metrics(messages)
	assert.Equal(t, 3, m.MessageCount)
	assert.Equal(t, 2, m.ToolUseCount)
	assert.Equal(t, 1, m.ErrorCount)
}

func writeTranscript(t *testing.T, messages []models.Message) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := json.NewEncoder(f)
	for _, m := range messages {
		require.NoError(t, enc.Encode(m))
	}
	require.NoError(t, f.Close())
	return path
}

func TestLoadTranscript_SkipsBadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	content := `{"role":"user","content":"hello"}
not json at all

{"role":"assistant","content":"hi"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	messages, err := LoadTranscript(path)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].Content)
}

type memorySink struct {
	saved map[string][]models.ReflectionFinding
}

func (s *memorySink) SaveFindings(sessionID string, findings []models.ReflectionFinding) error {
	if s.saved == nil {
		s.saved = make(map[string][]models.ReflectionFinding)
	}
	s.saved[sessionID] = findings
	return nil
}

func TestAnalyzerRun_WritesArtifactAndReleasesLock(t *testing.T) {
	dir := t.TempDir()
	lc := locks.NewController(filepath.Join(dir, "locks"))
	sink := &memorySink{}
	a := NewAnalyzer(lc, sink, filepath.Join(dir, "reflection"), nil)

	var messages []models.Message
	for i := 0; i < 4; i++ {
		messages = append(messages, msgWithTool("Grep", "pattern", false))
	}
	path := writeTranscript(t, messages)

	findings, err := a.Run("sess-1", path)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Len(t, sink.saved["sess-1"], 1)

	held, err := lc.IsHeld(locks.ReflectionLock)
	require.NoError(t, err)
	assert.False(t, held, "lock must be released after analysis")

	data, err := os.ReadFile(a.ArtifactPath("sess-1"))
	require.NoError(t, err)
	var doc artifact
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "sess-1", doc.SessionID)
	assert.Equal(t, 4, doc.Metrics.ToolUseCount)
	require.Len(t, doc.Findings, 1)
	assert.Equal(t, models.PatternRepeatedToolUse, doc.Findings[0].PatternKind)
}

func TestAnalyzerRun_ConcurrentRunRejected(t *testing.T) {
	dir := t.TempDir()
	lc := locks.NewController(filepath.Join(dir, "locks"))
	a := NewAnalyzer(lc, nil, "", nil)

	require.NoError(t, lc.Acquire(locks.ReflectionLock))
	_, err := a.Run("sess-1", "")
	assert.ErrorIs(t, err, ErrAnalysisInProgress)
}

func TestAnalyzerRun_MissingTranscriptDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	lc := locks.NewController(filepath.Join(dir, "locks"))
	a := NewAnalyzer(lc, nil, "", nil)

	findings, err := a.Run("sess-1", filepath.Join(dir, "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestRunPending_ConsumesMarker(t *testing.T) {
	dir := t.TempDir()
	lc := locks.NewController(filepath.Join(dir, "locks"))
	a := NewAnalyzer(lc, nil, "", nil)

	path := writeTranscript(t, []models.Message{
		msgWithTool("Bash", "go vet", false),
		msgWithTool("Bash", "go vet", false),
		msgWithTool("Bash", "go vet", false),
	})
	require.NoError(t, lc.MarkReflectionPending(locks.PendingReflection{
		SessionID:      "sess-1",
		TranscriptPath: path,
	}))

	findings, ran, err := a.RunPending()
	require.NoError(t, err)
	assert.True(t, ran)
	assert.NotEmpty(t, findings)

	_, ran, err = a.RunPending()
	require.NoError(t, err)
	assert.False(t, ran)
}
