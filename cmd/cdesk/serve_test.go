package main

import (
	"strings"
	"testing"
)

func TestServe_InvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:3001", "server:\n  port: 70000\n")
	_, err := runCmd(t, "", "serve", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Fatalf("err = %v, want port validation error", err)
	}
}

func TestServe_TelegraphMissingTokens(t *testing.T) {
	cfg := writeConfig(t, "http://localhost:3001", "telegraph:\n  platform: discord\n")
	_, err := runCmd(t, "", "serve", "-c", cfg)
	if err == nil || !strings.Contains(err.Error(), "telegraph.discord.bot_token") {
		t.Fatalf("err = %v, want discord token validation error", err)
	}
}

func TestServeCmd_Flags(t *testing.T) {
	cmd := newServeCmd()
	for _, name := range []string{"config", "port"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing --%s flag", name)
		}
	}
	if got := cmd.Flags().Lookup("config").DefValue; got != defaultConfigPath {
		t.Errorf("config default = %q", got)
	}
}
