package activation

import (
	"errors"
	"reflect"
	"testing"

	"github.com/dshills/modelocal/internal/mode/binding"
	"github.com/dshills/modelocal/internal/mode/document"
	"github.com/dshills/modelocal/internal/mode/registry"
)

// setup registers text (indentWidth=4, wrap=true) and code (parent text,
// indentWidth=2).
func setup(t *testing.T) (*registry.Registry, *Engine) {
	t.Helper()
	reg := registry.New()
	if err := reg.SetParent("code", "text"); err != nil {
		t.Fatal(err)
	}
	bind := func(mode registry.ID, name string, value any) {
		tbl, err := reg.Table(mode)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tbl.Install(name, value, binding.ModeVariable); err != nil {
			t.Fatal(err)
		}
	}
	bind("text", "indentWidth", 4)
	bind("text", "wrap", true)
	bind("code", "indentWidth", 2)
	return reg, New(reg)
}

func local(t *testing.T, doc *document.Document, name string) any {
	t.Helper()
	v, ok := doc.Local(name)
	if !ok {
		t.Fatalf("%s has no local value for %s", doc.Name(), name)
	}
	return v
}

func TestEngine_ActivateDeactivate(t *testing.T) {
	_, e := setup(t)
	doc := document.New("d")

	if doc.State() != document.Inactive {
		t.Fatalf("initial state = %v", doc.State())
	}

	if _, err := e.Activate(doc, "code"); err != nil {
		t.Fatalf("Activate(code) error = %v", err)
	}
	if got := local(t, doc, "indentWidth"); got != 2 {
		t.Errorf("indentWidth in code = %v, want 2", got)
	}
	if got := local(t, doc, "wrap"); got != true {
		t.Errorf("wrap inherited from text = %v, want true", got)
	}
	if doc.Mode() != "code" || doc.State() != document.Active {
		t.Errorf("mode/state = %s/%v", doc.Mode(), doc.State())
	}

	if err := e.Deactivate(doc, "code"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if _, ok := doc.Local("indentWidth"); ok {
		t.Error("indentWidth still local after Deactivate")
	}
	if doc.State() != document.Inactive {
		t.Errorf("state after Deactivate = %v", doc.State())
	}

	if _, err := e.Activate(doc, "text"); err != nil {
		t.Fatal(err)
	}
	if got := local(t, doc, "indentWidth"); got != 4 {
		t.Errorf("indentWidth in text = %v, want 4", got)
	}
}

func TestEngine_DeactivateAfterReparent(t *testing.T) {
	reg, e := setup(t)
	doc := document.New("d")
	if _, err := e.Activate(doc, "code"); err != nil {
		t.Fatal(err)
	}

	// code no longer inherits wrap once it moves under base.
	if err := reg.SetParent("code", "base"); err != nil {
		t.Fatal(err)
	}
	if err := e.Deactivate(doc, "code"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if _, ok := doc.Local("wrap"); ok {
		t.Error("wrap from the old parent still local after Deactivate")
	}
	if got := doc.Activated(); len(got) != 0 {
		t.Errorf("Activated() = %v, want none", got)
	}

	if _, err := e.Activate(doc, "code"); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Local("wrap"); ok {
		t.Error("wrap materialized from a mode outside the chain")
	}
	if got := local(t, doc, "indentWidth"); got != 2 {
		t.Errorf("indentWidth = %v, want 2", got)
	}
}

func TestEngine_ActivateSavesDisplacedValues(t *testing.T) {
	_, e := setup(t)
	doc := document.New("d")
	doc.SetLocal("indentWidth", 8)

	saved, err := e.Activate(doc, "code")
	if err != nil {
		t.Fatal(err)
	}

	// text pass displaces the user value, code pass displaces text's.
	want := []document.Saved{
		{Name: "indentWidth", Value: 8},
		{Name: "indentWidth", Value: 4},
	}
	if !reflect.DeepEqual(saved, want) {
		t.Errorf("saved = %+v, want %+v", saved, want)
	}
	if !reflect.DeepEqual(doc.Saved(), want) {
		t.Errorf("doc.Saved() = %+v, want %+v", doc.Saved(), want)
	}
}

func TestEngine_ActivateIsIdempotent(t *testing.T) {
	_, e := setup(t)
	doc := document.New("d")

	var events int
	e.observers = append(e.observers, func(ev Event) {
		if ev.Kind == EventActivated {
			events++
		}
	})

	if _, err := e.Activate(doc, "code"); err != nil {
		t.Fatal(err)
	}
	stack := len(doc.Saved())

	saved, err := e.Activate(doc, "code")
	if err != nil || saved != nil {
		t.Errorf("second Activate() = %v, %v", saved, err)
	}
	if len(doc.Saved()) != stack {
		t.Errorf("saved stack grew from %d to %d", stack, len(doc.Saved()))
	}
	if events != 1 {
		t.Errorf("activation ran %d times, want 1", events)
	}
}

func TestEngine_MissingMode(t *testing.T) {
	_, e := setup(t)
	doc := document.New("d")

	if _, err := e.Activate(doc, ""); !errors.Is(err, registry.ErrMissingMode) {
		t.Errorf("Activate(\"\") error = %v", err)
	}
	if err := e.Deactivate(doc, ""); !errors.Is(err, registry.ErrMissingMode) {
		t.Errorf("Deactivate(\"\") error = %v", err)
	}
	if _, err := e.Switch(doc, ""); !errors.Is(err, registry.ErrMissingMode) {
		t.Errorf("Switch(\"\") error = %v", err)
	}
}

func TestEngine_UnregisteredModeActivates(t *testing.T) {
	_, e := setup(t)
	doc := document.New("d")

	if _, err := e.Activate(doc, "fundamental"); err != nil {
		t.Fatalf("Activate(fundamental) error = %v", err)
	}
	if doc.Mode() != "fundamental" || len(doc.Locals()) != 0 {
		t.Errorf("mode = %s, locals = %v", doc.Mode(), doc.Locals())
	}
}

func TestEngine_Switch(t *testing.T) {
	_, e := setup(t)
	doc := document.New("d")

	applied, err := e.Switch(doc, "code")
	if err != nil || !applied {
		t.Fatalf("Switch(code) = %v, %v", applied, err)
	}
	if _, err := e.Switch(doc, "text"); err != nil {
		t.Fatal(err)
	}
	if got := local(t, doc, "indentWidth"); got != 4 {
		t.Errorf("indentWidth = %v, want 4", got)
	}
	if len(doc.Saved()) != 0 {
		t.Errorf("saved stack not reset on switch: %+v", doc.Saved())
	}
}

func TestEngine_DeferredSwitch(t *testing.T) {
	_, e := setup(t)
	a := document.New("a")
	b := document.New("b")

	a.BeginInit()
	b.BeginInit()

	applied, err := e.Switch(a, "text")
	if err != nil || applied {
		t.Fatalf("Switch during init = %v, %v; want deferred", applied, err)
	}
	_, _ = e.Switch(b, "text")
	_, _ = e.Switch(a, "code") // supersedes the queued text switch

	if a.State() != document.Inactive {
		t.Error("deferred switch materialized early")
	}
	if got := e.Pending(); len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("Pending() = %v", got)
	}
	if m, _ := e.PendingMode(a.ID()); m != "code" {
		t.Errorf("PendingMode(a) = %s, want code", m)
	}

	a.EndInit()
	n, err := e.Tick()
	if err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Tick() applied %d, want 1", n)
	}
	if a.Mode() != "code" || local(t, a, "indentWidth") != 2 {
		t.Errorf("a not activated in code: %s %v", a.Mode(), a.Locals())
	}
	if got := e.Pending(); len(got) != 1 || got[0] != b {
		t.Errorf("b should stay pending, Pending() = %v", got)
	}

	b.EndInit()
	if n, _ := e.Tick(); n != 1 {
		t.Errorf("second Tick() applied %d, want 1", n)
	}
	if len(e.Pending()) != 0 {
		t.Error("queue not drained")
	}
}

func TestEngine_Cancel(t *testing.T) {
	_, e := setup(t)
	doc := document.New("d")
	doc.BeginInit()
	_, _ = e.Switch(doc, "code")

	if !e.Cancel(doc.ID()) {
		t.Fatal("Cancel() = false")
	}
	doc.EndInit()
	if n, _ := e.Tick(); n != 0 {
		t.Errorf("Tick() applied %d after Cancel", n)
	}
}

func TestEventKind_String(t *testing.T) {
	tests := []struct {
		k    EventKind
		want string
	}{
		{EventActivated, "activated"},
		{EventDeactivated, "deactivated"},
		{EventDeferred, "deferred"},
		{EventRestored, "restored"},
		{EventKind(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.k, got, tt.want)
		}
	}
}
