package cmd

import (
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	rootCmd := NewRootCmd()

	if rootCmd.Use != "callsched" {
		t.Errorf("expected Use to be 'callsched', got '%s'", rootCmd.Use)
	}

	subcommands := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		subcommands[cmd.Name()] = true
	}

	expected := []string{"init", "config", "start", "stop", "status", "process", "resolve", "version"}
	for _, name := range expected {
		if !subcommands[name] {
			t.Errorf("expected subcommand '%s' to be registered", name)
		}
	}
}
