package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/comigor/empath/internal/classify"
	"github.com/comigor/empath/internal/history"
	"github.com/comigor/empath/internal/store"
)

func seeded(t *testing.T) *history.Repository {
	t.Helper()
	ctx := context.Background()
	repo := history.New(store.NewMemoryStore(), nil)
	_, err := repo.Prepend(ctx, []history.Conversation{
		{
			ID:         "c1",
			Text:       "How do I grow?",
			Response:   "What does growth mean to you?",
			Sentiment:  classify.SentimentNeutral,
			Category:   classify.CategoryPurpose,
			IsQuestion: true,
			Messages: []history.Message{
				{Role: history.RoleUser, Content: "How do I grow?"},
				{Role: history.RoleAssistant, Content: "What does growth mean to you?"},
			},
			CreatedAt: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
			Metrics:   &history.Metrics{EstimatedROI: "20%", Difficulty: history.LevelMedium},
		},
		{
			ID:        "c2",
			Messages:  []history.Message{},
			CreatedAt: time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	return repo
}

func TestFilename(t *testing.T) {
	require.Equal(t, "business-advisor-export-2024-03-09.json",
		Filename(time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)))
}

func TestExport_Document(t *testing.T) {
	g := New(seeded(t))
	var buf bytes.Buffer
	require.NoError(t, g.Export(&buf))

	require.True(t, strings.HasPrefix(buf.String(), "[\n  {"), "export is indented")
	var raw []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	require.Len(t, raw, 2)
	require.Equal(t, "2024-05-06T07:08:09Z", raw[0]["createdAt"])
	require.Equal(t, true, raw[0]["isQuestion"])
	require.Equal(t, "purpose", raw[0]["category"])
	require.NotContains(t, raw[1], "metrics")
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := seeded(t)
	data, err := New(src).ExportBytes()
	require.NoError(t, err)

	dst := history.New(store.NewMemoryStore(), nil)
	n, err := New(dst).Import(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	if diff := cmp.Diff(src.Snapshot(), dst.Snapshot()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_PrependsAndKeepsActive(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := history.New(s, nil)
	res, err := repo.AppendTurn(ctx, "", history.Turn{
		User:      history.Message{Role: history.RoleUser, Content: "q"},
		Assistant: history.Message{Role: history.RoleAssistant, Content: "a"},
	})
	require.NoError(t, err)

	doc := `[
		{"id": 1700000000000, "text": "old", "messages": [{"role":"user","content":"old"}], "createdAt": 1700000000000},
		{"text": "no id", "messages": "not-an-array"}
	]`
	n, err := New(repo).Import(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	snap := repo.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "1700000000000", snap[0].ID)
	require.Equal(t, time.UnixMilli(1700000000000).UTC(), snap[0].CreatedAt)
	require.NotEmpty(t, snap[1].ID)
	require.Empty(t, snap[1].Messages)
	require.Equal(t, res.ConversationID, snap[2].ID)
	require.Equal(t, res.ConversationID, repo.Active())

	// persisted
	fresh := history.New(s, nil)
	require.NoError(t, fresh.Hydrate(ctx))
	require.Equal(t, 3, fresh.Len())
}

func TestImport_RejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"object root":       `{"id":"x"}`,
		"not json":          `hello`,
		"scalar element":    `[1]`,
		"wrong field type":  `[{"id":"x","text":42}]`,
		"unknown role":      `[{"id":"x","messages":[{"role":"narrator","content":"hi"}]}]`,
		"truncated":         `[{"id":"x"}`,
		"bad isQuestion":    `[{"id":"x","isQuestion":"yes"}]`,
		"id of wrong shape": `[{"id":{"nested":true}}]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			repo := seeded(t)
			before := repo.Snapshot()

			n, err := New(repo).Import(context.Background(), strings.NewReader(doc))
			var fe *FormatError
			require.ErrorAs(t, err, &fe)
			require.ErrorIs(t, err, history.ErrMalformed)
			require.Zero(t, n)
			require.Equal(t, "Failed to import conversations. Please check the file format.", fe.UserMessage())
			require.Equal(t, before, repo.Snapshot(), "collection must be untouched")
		})
	}
}

func TestImport_CollidingIDsGetFreshOnes(t *testing.T) {
	repo := seeded(t)
	n, err := New(repo).Import(context.Background(), strings.NewReader(`[{"id":"c1","text":"dup"}]`))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	snap := repo.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, "dup", snap[0].Text)
	require.NotEqual(t, "c1", snap[0].ID)
	seen := map[string]bool{}
	for _, c := range snap {
		require.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
	}
}
