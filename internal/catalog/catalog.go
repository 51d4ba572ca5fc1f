// Package catalog holds the dashboard views and the cards on them. Each card
// carries the question that selecting it asks in the chat view.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/zulandar/costdesk/internal/chat"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Catalog is the full set of dashboard views.
type Catalog struct {
	EmptyState string      `yaml:"empty_state" json:"emptyState"`
	CardHint   string      `yaml:"card_hint" json:"cardHint"`
	Views      []Dashboard `yaml:"views" json:"views"`
}

// Dashboard is one dashboard view and its cards.
type Dashboard struct {
	View  chat.View `yaml:"view" json:"view"`
	Label string    `yaml:"label" json:"label"` // tab label
	Title string    `yaml:"title" json:"title"`
	Cards []Card    `yaml:"cards" json:"cards"`
}

// Card is a dashboard card that translates into a chat question.
type Card struct {
	ID       string `yaml:"id" json:"id"`
	Title    string `yaml:"title" json:"title"`
	Subtitle string `yaml:"subtitle" json:"subtitle"`
	Question string `yaml:"question" json:"question"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file. An empty path returns the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// validate checks that views are dashboard views, and that card IDs are
// unique and every card has a question.
func (c *Catalog) validate() error {
	var errs []string
	seenViews := make(map[chat.View]bool)
	seenCards := make(map[string]bool)
	for i, d := range c.Views {
		v, err := chat.ParseView(string(d.View))
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("views[%d]: unknown view %q", i, d.View))
		case !v.IsDashboard():
			errs = append(errs, fmt.Sprintf("views[%d]: %q is not a dashboard view", i, d.View))
		case seenViews[v]:
			errs = append(errs, fmt.Sprintf("views[%d]: duplicate view %q", i, d.View))
		default:
			c.Views[i].View = v
			seenViews[v] = true
		}
		for j, card := range d.Cards {
			if card.ID == "" {
				errs = append(errs, fmt.Sprintf("views[%d].cards[%d].id is required", i, j))
			} else if seenCards[card.ID] {
				errs = append(errs, fmt.Sprintf("views[%d].cards[%d]: duplicate card id %q", i, j, card.ID))
			}
			seenCards[card.ID] = true
			if strings.TrimSpace(card.Question) == "" {
				errs = append(errs, fmt.Sprintf("views[%d].cards[%d].question is required", i, j))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("catalog: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Dashboard returns the dashboard for a view.
func (c *Catalog) Dashboard(v chat.View) (Dashboard, bool) {
	for _, d := range c.Views {
		if d.View == v {
			return d, true
		}
	}
	return Dashboard{}, false
}

// Card looks up a card by ID across all views.
func (c *Catalog) Card(id string) (Card, bool) {
	for _, d := range c.Views {
		for _, card := range d.Cards {
			if card.ID == id {
				return card, true
			}
		}
	}
	return Card{}, false
}
