package main

import (
	"strings"
	"testing"
)

func TestCardsCmd_All(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:3001", "")
	out, err := runCmd(t, "", "cards", "-c", cfg)
	if err != nil {
		t.Fatalf("cards: %v", err)
	}
	for _, want := range []string{"Cost Optimization Analysis (cost)", "regional-spending", "(instances)", "Click on any card"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCardsCmd_OneView(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:3001", "")
	out, err := runCmd(t, "", "cards", "-c", cfg, "cost")
	if err != nil {
		t.Fatalf("cards: %v", err)
	}
	if strings.Contains(out, "(instances)") {
		t.Errorf("cost cards should not list other views:\n%s", out)
	}
	if !strings.Contains(out, `"Analyze spending patterns across different regions and instance types"`) {
		t.Errorf("output missing card question:\n%s", out)
	}
}

func TestCardsCmd_BadView(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:3001", "")
	if _, err := runCmd(t, "", "cards", "-c", cfg, "chat"); err == nil {
		t.Error("expected error for the chat view")
	}
	if _, err := runCmd(t, "", "cards", "-c", cfg, "sideways"); err == nil {
		t.Error("expected error for an unknown view")
	}
}

func TestCardsCmd_MissingConfigUsesDefaults(t *testing.T) {
	out, err := runCmd(t, "", "cards", "-c", t.TempDir()+"/absent.yaml", "regions")
	if err != nil {
		t.Fatalf("cards: %v", err)
	}
	if !strings.Contains(out, "(regions)") {
		t.Errorf("output = %s", out)
	}
}

func TestCardsCmd_CustomCatalog(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:3001", "catalog:\n  path: /does/not/exist.yaml\n")
	if _, err := runCmd(t, "", "cards", "-c", cfg); err == nil {
		t.Error("expected error for a missing catalog file")
	}
}
