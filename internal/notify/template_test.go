package notify

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedTemplates(t *testing.T) {
	r, err := NewRegistry("", slog.Default())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	due := r.Lookup("card-due")
	if !due.HighPriority {
		t.Error("card-due should be high priority")
	}
	if len(due.Actions) == 0 {
		t.Error("card-due should carry default actions")
	}

	invite := r.Lookup("board-invite")
	var accept *TemplateAction
	for i := range invite.Actions {
		if invite.Actions[i].Action == "accept" {
			accept = &invite.Actions[i]
		}
	}
	if accept == nil || accept.URL != "/invites" {
		t.Errorf("board-invite accept action = %+v, want url /invites", accept)
	}

	if got := r.Lookup("never-heard-of-it"); got.Type != "generic" {
		t.Errorf("unknown type resolved to %q, want generic", got.Type)
	}
}

func TestRegistryFileOverride(t *testing.T) {
	override := `
[[templates]]
type = "card-assigned"
title = "Assignment"
icon = "/custom/card.svg"

[[templates]]
type = "standup-reminder"
title = "Standup"
high_priority = true

[[templates]]
title = "no type, skipped"
`
	path := filepath.Join(t.TempDir(), "templates.toml")
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := NewRegistry(path, slog.Default())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	if got := r.Lookup("card-assigned"); got.Title != "Assignment" || got.Icon != "/custom/card.svg" {
		t.Errorf("override not applied: %+v", got)
	}
	if got := r.Lookup("standup-reminder"); !got.HighPriority {
		t.Errorf("new type not registered: %+v", got)
	}
	// Types the file does not mention keep their embedded defaults.
	if got := r.Lookup("card-due"); !got.HighPriority || got.Icon != "/icons/due.png" {
		t.Errorf("embedded card-due template lost: %+v", got)
	}
}

func TestRegistryMissingFile(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "nope.toml"), slog.Default())
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if got := r.Lookup("generic"); got.Type != "generic" {
		t.Error("embedded defaults missing")
	}
}

func TestRegistryRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.toml")
	if err := os.WriteFile(path, []byte("[[templates]\ntype=broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewRegistry(path, slog.Default()); err == nil {
		t.Fatal("expected parse error")
	}
}
