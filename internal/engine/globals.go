package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"

	"github.com/GriffinCanCode/tabcore/internal/tabs"
)

// consoleHistory bounds the console lines a runtime retains
const consoleHistory = 256

// setupGlobals configures global objects and security.
// Callbacks run inside RunString, so they see r with r.mu already held.
func (r *Runtime) setupGlobals(vm *goja.Runtime) error {
	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}

	// Timers never fire inside the sandbox
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }

	window := vm.GlobalObject()
	setters := map[string]any{
		"console":       console,
		"setTimeout":    noop,
		"setInterval":   noop,
		"clearTimeout":  noop,
		"clearInterval": noop,
		"document":      r.makeDocument(vm),
		"location":      r.makeLocation(vm),
		"navigator":     map[string]any{"userAgent": r.cfg.UserAgent, "onLine": true},
		"window":        window,
		"self":          window,
		"scrollTo":      r.scrollTo,
		"scroll":        r.scrollTo,
		"scrollBy":      r.scrollBy,
		"open":          r.open,
	}
	for name, v := range setters {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}

	for name, get := range map[string]func() float64{
		"scrollX":     func() float64 { return float64(r.scrollX) },
		"scrollY":     func() float64 { return float64(r.scrollY) },
		"pageXOffset": func() float64 { return float64(r.scrollX) },
		"pageYOffset": func() float64 { return float64(r.scrollY) },
		"innerWidth":  func() float64 { return ViewportWidth },
		"innerHeight": func() float64 { return ViewportHeight },
	} {
		if err := window.DefineAccessorProperty(name, vm.ToValue(get), nil, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
			return err
		}
	}
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.record(tabs.ConsoleEntry{Level: tabs.ParseConsoleLevel(level), Message: strings.Join(parts, " ")})
		return goja.Undefined()
	}
}

func (r *Runtime) record(entry tabs.ConsoleEntry) {
	r.console = append(r.console, entry)
	r.history = append(r.history, entry)
	if over := len(r.history) - consoleHistory; over > 0 {
		r.history = append(r.history[:0], r.history[over:]...)
	}
}

func (r *Runtime) scrollTo(call goja.FunctionCall) goja.Value {
	x, y := call.Argument(0), call.Argument(1)
	if obj, ok := x.(*goja.Object); ok {
		// scrollTo({left, top})
		x, y = obj.Get("left"), obj.Get("top")
	}
	r.scrollX = clampScroll(x)
	r.scrollY = clampScroll(y)
	return goja.Undefined()
}

func (r *Runtime) scrollBy(call goja.FunctionCall) goja.Value {
	r.scrollX = clampOffset(float64(r.scrollX) + call.Argument(0).ToFloat())
	r.scrollY = clampOffset(float64(r.scrollY) + call.Argument(1).ToFloat())
	return goja.Undefined()
}

func clampScroll(v goja.Value) float32 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return clampOffset(v.ToFloat())
}

func clampOffset(f float64) float32 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return float32(f)
}

// open records a popup request; the host decides whether to honour it
func (r *Runtime) open(call goja.FunctionCall) goja.Value {
	target := call.Argument(0)
	if goja.IsUndefined(target) || goja.IsNull(target) {
		return goja.Null()
	}
	if u := r.doc.Resolve(target.String()); u != "" {
		r.popups = append(r.popups, u)
	}
	return goja.Null()
}

func (r *Runtime) makeLocation(vm *goja.Runtime) *goja.Object {
	loc := vm.NewObject()
	_ = loc.Set("href", r.doc.URL)
	if b := r.doc.base; b != nil {
		_ = loc.Set("protocol", b.Scheme+":")
		_ = loc.Set("host", b.Host)
		_ = loc.Set("hostname", b.Hostname())
		_ = loc.Set("pathname", b.EscapedPath())
		_ = loc.Set("search", querySuffix(b.RawQuery))
	}
	_ = loc.Set("toString", func() string { return r.doc.URL })
	return loc
}

func querySuffix(q string) string {
	if q == "" {
		return ""
	}
	return "?" + q
}

// makeDocument injects the document proxy
func (r *Runtime) makeDocument(vm *goja.Runtime) *goja.Object {
	document := vm.NewObject()

	_ = document.DefineAccessorProperty("title",
		vm.ToValue(func() string { return r.doc.Title() }),
		vm.ToValue(func(title string) { r.doc.SetTitle(title) }),
		goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = document.DefineAccessorProperty("URL",
		vm.ToValue(func() string { return r.doc.URL }), nil,
		goja.FLAG_TRUE, goja.FLAG_TRUE)

	_ = document.Set("querySelector", func(selector string) goja.Value {
		sel := r.doc.Find(selector).First()
		if sel.Length() == 0 {
			return goja.Null()
		}
		return r.element(vm, sel)
	})
	_ = document.Set("querySelectorAll", func(selector string) goja.Value {
		return r.elements(vm, r.doc.Find(selector))
	})
	_ = document.Set("getElementById", func(elementID string) goja.Value {
		sel := r.doc.Find(fmt.Sprintf("[id=%q]", elementID)).First()
		if sel.Length() == 0 {
			return goja.Null()
		}
		return r.element(vm, sel)
	})
	_ = document.Set("getElementsByClassName", func(class string) goja.Value {
		return r.elements(vm, r.doc.Find("."+strings.Join(strings.Fields(class), ".")))
	})
	_ = document.Set("getElementsByTagName", func(tag string) goja.Value {
		return r.elements(vm, r.doc.Find(tag))
	})
	return document
}

func (r *Runtime) elements(vm *goja.Runtime, sel *goquery.Selection) goja.Value {
	items := make([]any, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		items = append(items, r.element(vm, s))
	})
	return vm.NewArray(items...)
}

// element returns a live proxy; writes go straight into the document
func (r *Runtime) element(vm *goja.Runtime, sel *goquery.Selection) *goja.Object {
	el := vm.NewObject()
	_ = el.Set("tagName", strings.ToUpper(goquery.NodeName(sel)))
	_ = el.Set("id", sel.AttrOr("id", ""))
	_ = el.Set("className", sel.AttrOr("class", ""))

	_ = el.DefineAccessorProperty("textContent",
		vm.ToValue(func() string { return sel.Text() }),
		vm.ToValue(func(v string) { sel.SetText(v) }),
		goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = el.DefineAccessorProperty("innerHTML",
		vm.ToValue(func() string { h, _ := sel.Html(); return h }),
		vm.ToValue(func(v string) {
			sel.SetHtml(v)
			sel.Find("script").Remove()
		}),
		goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = el.DefineAccessorProperty("value",
		vm.ToValue(func() string {
			if goquery.NodeName(sel) == "textarea" {
				return sel.Text()
			}
			return sel.AttrOr("value", "")
		}),
		vm.ToValue(func(v string) {
			if goquery.NodeName(sel) == "textarea" {
				sel.SetText(v)
				return
			}
			sel.SetAttr("value", v)
		}),
		goja.FLAG_TRUE, goja.FLAG_TRUE)

	_ = el.Set("getAttribute", func(name string) goja.Value {
		v, ok := sel.Attr(name)
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	_ = el.Set("setAttribute", func(name, value string) {
		if strings.HasPrefix(strings.ToLower(name), "on") {
			return
		}
		sel.SetAttr(name, value)
	})
	_ = el.Set("removeAttribute", func(name string) { sel.RemoveAttr(name) })
	_ = el.Set("remove", func() { sel.Remove() })
	_ = el.Set("querySelector", func(selector string) goja.Value {
		child := sel.Find(selector).First()
		if child.Length() == 0 {
			return goja.Null()
		}
		return r.element(vm, child)
	})
	_ = el.Set("querySelectorAll", func(selector string) goja.Value {
		return r.elements(vm, sel.Find(selector))
	})
	return el
}
