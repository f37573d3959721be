package prompt

import (
	"context"
	"testing"

	"chatrelay/internal/kv"
	"chatrelay/pkg/domain"
)

func TestDefaults(t *testing.T) {
	p := Open(context.Background(), kv.NewMemoryStore(), nil)
	if p.Text() != DefaultText || !p.Enabled() {
		t.Fatalf("unexpected defaults: %q %v", p.Text(), p.Enabled())
	}
	msgs := p.Messages()
	if len(msgs) != 1 || msgs[0].Role != domain.RoleSystem || msgs[0].Content != DefaultText {
		t.Fatalf("unexpected system message: %+v", msgs)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	p := Open(ctx, store, nil)
	if err := p.SetText(ctx, "Answer in French."); err != nil {
		t.Fatalf("set text: %v", err)
	}
	enabled, err := p.Toggle(ctx)
	if err != nil || enabled {
		t.Fatalf("toggle: enabled=%v err=%v", enabled, err)
	}

	raw, _, _ := store.Load(ctx, EnabledKey)
	if string(raw) != "false" {
		t.Fatalf("unexpected stored flag %q", raw)
	}

	again := Open(ctx, store, nil)
	if again.Text() != "Answer in French." || again.Enabled() {
		t.Fatalf("preference not restored: %q %v", again.Text(), again.Enabled())
	}
	if again.Messages() != nil {
		t.Fatalf("disabled prompt must not produce a system message")
	}
}

func TestEmptyStoredTextFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	_ = store.Save(ctx, TextKey, []byte(""))
	_ = store.Save(ctx, EnabledKey, []byte("yes"))
	p := Open(ctx, store, nil)
	if p.Text() != DefaultText {
		t.Fatalf("expected default text, got %q", p.Text())
	}
	if p.Enabled() {
		t.Fatalf("only the literal true enables the prompt")
	}
}

func TestBlankTextProducesNoMessage(t *testing.T) {
	ctx := context.Background()
	p := Open(ctx, kv.NewMemoryStore(), nil)
	_ = p.SetText(ctx, "")
	if p.Messages() != nil {
		t.Fatalf("blank prompt must not produce a system message")
	}
}

func TestSelectPreset(t *testing.T) {
	ctx := context.Background()
	p := Open(ctx, kv.NewMemoryStore(), nil)

	ok, err := p.SelectPreset(ctx, "concise")
	if !ok || err != nil {
		t.Fatalf("select preset: ok=%v err=%v", ok, err)
	}
	if p.Text() != Presets()["concise"] {
		t.Fatalf("preset not applied: %q", p.Text())
	}

	ok, err = p.SelectPreset(ctx, "pirate")
	if ok || err != nil {
		t.Fatalf("unknown preset: ok=%v err=%v", ok, err)
	}
	if p.Text() != Presets()["concise"] {
		t.Fatalf("unknown preset changed the text")
	}
}

func TestPresetsAreReadOnly(t *testing.T) {
	table := Presets()
	table[DefaultPreset] = "changed"
	if Presets()[DefaultPreset] != DefaultText {
		t.Fatalf("preset table was mutated through the copy")
	}
	names := PresetNames()
	want := []string{"concise", "creative", "default", "detailed", "friendly", "professional"}
	if len(names) != len(want) {
		t.Fatalf("unexpected preset names %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected preset names %v", names)
		}
	}
}

func TestSetEnabled(t *testing.T) {
	ctx := context.Background()
	p := Open(ctx, nil, nil)
	if err := p.SetEnabled(ctx, false); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	if p.Enabled() {
		t.Fatalf("expected disabled")
	}
}
