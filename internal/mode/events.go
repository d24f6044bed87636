package mode

import (
	"github.com/dshills/modelocal/internal/mode/activation"
	"github.com/dshills/modelocal/internal/mode/dispatch"
	"github.com/dshills/modelocal/internal/notify"
)

// onActivation forwards activation events to the logger and notifier.
func (rt *Runtime) onActivation(ev activation.Event) {
	doc := ev.Document.Name()
	mode := string(ev.Mode)

	switch ev.Kind {
	case activation.EventActivated:
		rt.log.Debug("activated %s in %s: %d variables, %d saved", mode, doc, len(ev.Names), len(ev.Saved))
		for _, name := range ev.Names {
			v, _ := ev.Document.Local(name)
			rt.notifier.Notify(notify.Change{Type: notify.ChangeActivate, Name: name, Mode: mode, Document: doc, NewValue: v})
		}
	case activation.EventDeactivated:
		rt.log.Debug("deactivated %s in %s", mode, doc)
		for _, name := range ev.Names {
			rt.notifier.Notify(notify.Change{Type: notify.ChangeDeactivate, Name: name, Mode: mode, Document: doc})
		}
	case activation.EventDeferred:
		rt.log.Debug("deferred switch of %s to %s", doc, mode)
		rt.notifier.Notify(notify.Change{Type: notify.ChangeDefer, Mode: mode, Document: doc})
	case activation.EventRestored:
		rt.notifier.Notify(notify.Change{Type: notify.ChangeRestore, Mode: mode, Document: doc})
	}
}

// onFallback warns once per obsolete operation name.
func (rt *Runtime) onFallback(requested string, m dispatch.Match) {
	rt.warnOnce("op:"+requested, "operation %s is obsolete, dispatching to %s from %s", requested, m.Name, m.Source)
}

func (rt *Runtime) warnOnce(key, msg string, args ...any) {
	rt.warnMu.Lock()
	seen := rt.warned[key]
	rt.warned[key] = true
	rt.warnMu.Unlock()

	if !seen {
		rt.log.Warn(msg, args...)
	}
}
