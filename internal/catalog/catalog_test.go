package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/costdesk/internal/chat"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.Len(t, c.Views, 4)
	assert.Equal(t, []chat.View{chat.ViewCost, chat.ViewResources, chat.ViewRegions, chat.ViewInstances},
		[]chat.View{c.Views[0].View, c.Views[1].View, c.Views[2].View, c.Views[3].View})

	total := 0
	for _, d := range c.Views {
		total += len(d.Cards)
	}
	assert.Equal(t, 14, total)
	assert.NotEmpty(t, c.EmptyState)
	assert.NotEmpty(t, c.CardHint)
}

func TestCard_Lookup(t *testing.T) {
	c := Default()
	card, ok := c.Card("utilization-analysis")
	require.True(t, ok)
	assert.Equal(t, "Identify underutilized expensive instances for potential downsizing", card.Question)

	_, ok = c.Card("nope")
	assert.False(t, ok)
}

func TestDashboard_Lookup(t *testing.T) {
	c := Default()
	d, ok := c.Dashboard(chat.ViewRegions)
	require.True(t, ok)
	assert.Equal(t, "Regional Performance Benchmarking", d.Title)
	assert.Len(t, d.Cards, 3)

	_, ok = c.Dashboard(chat.ViewChat)
	assert.False(t, ok)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown view", "views:\n  - view: billing\n", `unknown view "billing"`},
		{"chat is not a dashboard", "views:\n  - view: chat\n", "is not a dashboard view"},
		{"duplicate view", "views:\n  - view: cost\n  - view: cost\n", "duplicate view"},
		{"missing id", "views:\n  - view: cost\n    cards:\n      - question: q\n", "id is required"},
		{"missing question", "views:\n  - view: cost\n    cards:\n      - id: a\n", "question is required"},
		{"duplicate card", "views:\n  - view: cost\n    cards:\n      - {id: a, question: q}\n  - view: regions\n    cards:\n      - {id: a, question: q}\n", `duplicate card id "a"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_NormalizesViewCase(t *testing.T) {
	c, err := Parse([]byte("views:\n  - view: Cost\n    cards:\n      - {id: a, question: q}\n"))
	require.NoError(t, err)
	assert.Equal(t, chat.ViewCost, c.Views[0].View)
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Len(t, c.Views, 4)

	path := filepath.Join(t.TempDir(), "cards.yaml")
	require.NoError(t, os.WriteFile(path, []byte("views:\n  - view: instances\n    cards:\n      - {id: x, title: X, question: Which family is cheapest?}\n"), 0o644))
	c, err = Load(path)
	require.NoError(t, err)
	card, ok := c.Card("x")
	require.True(t, ok)
	assert.Equal(t, "Which family is cheapest?", card.Question)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "catalog: read")
}
