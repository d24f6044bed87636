package document

import (
	"reflect"
	"testing"

	"github.com/dshills/modelocal/internal/mode/binding"
)

func TestNew(t *testing.T) {
	doc := New("main.go")
	if doc.Name() != "main.go" {
		t.Errorf("Name() = %q", doc.Name())
	}
	if doc.State() != Inactive {
		t.Errorf("State() = %v, want inactive", doc.State())
	}
	if doc.Mode() != "" {
		t.Errorf("Mode() = %q, want empty", doc.Mode())
	}
	if New("").Name() != "*scratch*" {
		t.Error("unnamed document should be *scratch*")
	}
	if New("a").ID() == New("a").ID() {
		t.Error("documents share an ID")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Inactive, "inactive"},
		{Activating, "activating"},
		{Active, "active"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestDocument_Materialize(t *testing.T) {
	doc := New("a")

	if _, had := doc.Materialize("indentWidth", 4); had {
		t.Error("Materialize() on unset name reported a saved value")
	}

	saved, had := doc.Materialize("indentWidth", 2)
	if !had || saved.Value != 4 {
		t.Errorf("Materialize() saved = %+v, %v", saved, had)
	}

	if v, _ := doc.Local("indentWidth"); v != 2 {
		t.Errorf("Local() = %v, want 2", v)
	}
	if got := doc.Activated(); !reflect.DeepEqual(got, []string{"indentWidth"}) {
		t.Errorf("Activated() = %v", got)
	}
	if got := doc.Saved(); len(got) != 1 || got[0].Value != 4 {
		t.Errorf("Saved() = %+v", got)
	}

	doc.Unmaterialize("indentWidth")
	if _, ok := doc.Local("indentWidth"); ok {
		t.Error("value still set after Unmaterialize")
	}
	if len(doc.Activated()) != 0 {
		t.Error("name still marked activated")
	}
}

func TestDocument_SetLocalIsNotActivated(t *testing.T) {
	doc := New("a")
	doc.Materialize("fill", 70)
	doc.SetLocal("fill", 100)

	if len(doc.Activated()) != 0 {
		t.Errorf("Activated() = %v, want empty", doc.Activated())
	}
}

func TestDocument_SnapshotIsByValue(t *testing.T) {
	doc := New("a")
	doc.SetMode("text")
	doc.SetState(Active)
	doc.Materialize("x", 1)
	doc.Materialize("x", 2)

	snap := doc.Snapshot()

	doc.Materialize("x", 3)
	doc.SetLocal("y", true)
	doc.SetMode("code")

	if snap.Locals["x"] != 2 || len(snap.Saved) != 1 {
		t.Fatalf("snapshot mutated: %+v", snap)
	}

	doc.Restore(snap)
	if doc.Mode() != "text" || doc.State() != Active {
		t.Errorf("Restore() mode/state = %s/%v", doc.Mode(), doc.State())
	}
	if !reflect.DeepEqual(doc.Locals(), map[string]any{"x": 2}) {
		t.Errorf("Locals() = %v", doc.Locals())
	}
	if len(doc.Saved()) != 1 {
		t.Errorf("Saved() = %+v", doc.Saved())
	}

	// Mutating after restore leaves the snapshot intact.
	doc.SetLocal("x", 99)
	if snap.Locals["x"] != 2 {
		t.Error("restore aliased snapshot map")
	}
}

func TestDocument_SnapshotCoversTable(t *testing.T) {
	doc := New("a")
	if _, err := doc.Table().Install("tabs", false, binding.None); err != nil {
		t.Fatal(err)
	}

	snap := doc.Snapshot()

	if _, err := doc.Table().Install("tabs", true, binding.None); err != nil {
		t.Fatal(err)
	}
	if _, err := doc.Table().Install("extra", 1, binding.Constant); err != nil {
		t.Fatal(err)
	}
	if len(snap.Bindings) != 1 || snap.Bindings[0].Value != false {
		t.Fatalf("snapshot bindings mutated: %+v", snap.Bindings)
	}

	doc.Restore(snap)
	if got := doc.Table().Names(); !reflect.DeepEqual(got, []string{"tabs"}) {
		t.Errorf("Names() after Restore = %v, want [tabs]", got)
	}
	if b, _ := doc.Table().Lookup("tabs"); b.Value != false {
		t.Errorf("tabs after Restore = %v, want false", b.Value)
	}
}

func TestDocument_Init(t *testing.T) {
	doc := New("a")
	doc.BeginInit()
	doc.BeginInit()
	doc.EndInit()
	if !doc.Initializing() {
		t.Error("nested init closed early")
	}
	doc.EndInit()
	doc.EndInit()
	if doc.Initializing() {
		t.Error("still initializing")
	}
}

func TestManager(t *testing.T) {
	m := NewManager()
	a, b, c := New("a"), New("b"), New("c")
	m.Add(a)
	m.Add(b)
	m.Add(c)
	m.Add(a)

	if m.Count() != 3 {
		t.Errorf("Count() = %d, want 3", m.Count())
	}
	if m.Get(b.ID()) != b {
		t.Error("Get(b) mismatch")
	}
	if !m.Remove(b.ID()) || m.Remove(b.ID()) {
		t.Error("Remove(b) results wrong")
	}

	all := m.All()
	if len(all) != 2 || all[0] != a || all[1] != c {
		t.Errorf("All() = %v", all)
	}
}
