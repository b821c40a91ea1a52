package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTableAlignsWideRunes(t *testing.T) {
	var buf bytes.Buffer
	err := writeTable(&buf, []string{"ID", "WITH"}, [][]string{
		{"c1", "Åse"},
		{"c22", "山田"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID   WITH", lines[0])
	assert.Equal(t, "c1   Åse", lines[1])
	assert.Equal(t, "c22  山田", lines[2])
}

func TestWriteTableTruncatesLongCells(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, []string{"MSG"}, [][]string{{strings.Repeat("x", 100)}}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[1], "…"))
	assert.Less(t, len([]rune(lines[1])), 100)
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", formatAge(time.Time{}, now))
	assert.Equal(t, "just now", formatAge(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", formatAge(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", formatAge(now.Add(-3*time.Hour), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour), now))
}

func TestGenerateHints(t *testing.T) {
	assert.Empty(t, generateHints(HintContext{Action: "use"}))

	seller := generateHints(HintContext{Action: "use", ConversationID: "c1", Seller: true})
	assert.Len(t, seller, 4)
	assert.Contains(t, strings.Join(seller, "\n"), "campusmarket complete")

	closed := strings.Join(generateHints(HintContext{Action: "use", ConversationID: "c1", Seller: true, Closed: true}), "\n")
	assert.NotContains(t, closed, "campusmarket send")
	assert.NotContains(t, closed, "campusmarket complete")

	send := generateHints(HintContext{Action: "send", ConversationID: "c1"})
	require.Len(t, send, 1)
	assert.Contains(t, send[0], "watch c1")

	var buf bytes.Buffer
	printNextSteps(&buf, true, HintContext{Action: "send", ConversationID: "c1"})
	assert.Empty(t, buf.String())
}
