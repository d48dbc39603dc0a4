package browser

import (
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

func evalBool(script string, out *bool) chromedp.Action { return chromedp.Evaluate(script, out) }
func evalInt(script string, out *int) chromedp.Action   { return chromedp.Evaluate(script, out) }

// The chat platforms ship obfuscated class names, so controls are
// located by their visible text instead of stable selectors.

const findByTextJS = `
(() => {
  const want = %q;
  const nodes = document.querySelectorAll('button, [role="button"], div, span, a');
  for (const n of nodes) {
    const text = (n.innerText || '').trim();
    if (text === want && n.offsetParent !== null) return n;
  }
  return null;
})()`

// ExistsText reports whether a visible element with exactly the given
// text is present.
func (t *Tab) ExistsText(text string) bool {
	var found bool
	script := fmt.Sprintf(findByTextJS+" !== null", text)
	if err := t.RunTimeout(10*time.Second, evalBool(script, &found)); err != nil {
		return false
	}
	return found
}

// ClickText clicks the innermost visible element with exactly the given
// text. Returns false when no such element exists.
func (t *Tab) ClickText(text string) bool {
	var clicked bool
	script := fmt.Sprintf(`
(() => {
  const n = %s;
  if (!n) return false;
  n.click();
  return true;
})()`, fmt.Sprintf(findByTextJS, text))
	if err := t.RunTimeout(10*time.Second, evalBool(script, &clicked)); err != nil {
		return false
	}
	return clicked
}

// ToggleActive inspects the element with the given text and guesses
// whether the toggle it represents is already on, by looking for
// activation keywords in its own and its parent's class list. The
// second return is false when the element is absent.
func (t *Tab) ToggleActive(text string) (active, found bool) {
	var state int
	script := fmt.Sprintf(`
(() => {
  const n = %s;
  if (!n) return 0;
  const cls = ((n.className || '') + ' ' + ((n.parentElement && n.parentElement.className) || '')).toLowerCase();
  for (const kw of ['checked', 'active', 'selected', 'enabled', '-on']) {
    if (cls.includes(kw)) return 2;
  }
  return 1;
})()`, fmt.Sprintf(findByTextJS, text))
	if err := t.RunTimeout(10*time.Second, evalInt(script, &state)); err != nil {
		return false, false
	}
	return state == 2, state != 0
}

// FillFirst types value into the first selector from sels that matches
// a visible element, returning the selector used.
func (t *Tab) FillFirst(sels []string, value string) (string, error) {
	for _, sel := range sels {
		if !t.Exists(sel) {
			continue
		}
		script := fmt.Sprintf(`
(() => {
  const n = document.querySelector(%q);
  if (!n) return false;
  n.focus();
  if (n.isContentEditable) {
    n.innerText = %q;
  } else {
    const setter = Object.getOwnPropertyDescriptor(window.HTMLTextAreaElement.prototype, 'value') ||
                   Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value');
    if (setter && setter.set) { setter.set.call(n, %q); } else { n.value = %q; }
  }
  n.dispatchEvent(new Event('input', { bubbles: true }));
  n.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
})()`, sel, value, value, value)
		var ok bool
		if err := t.RunTimeout(10*time.Second, evalBool(script, &ok)); err != nil {
			continue
		}
		if ok {
			return sel, nil
		}
	}
	return "", fmt.Errorf("no input matched any of %d selectors", len(sels))
}

// ClickFirst clicks the first selector from sels matching a visible
// element, returning whether anything was clicked.
func (t *Tab) ClickFirst(sels []string) bool {
	for _, sel := range sels {
		script := fmt.Sprintf(`
(() => {
  const n = document.querySelector(%q);
  if (!n || n.offsetParent === null || n.disabled) return false;
  n.click();
  return true;
})()`, sel)
		var ok bool
		if err := t.RunTimeout(10*time.Second, evalBool(script, &ok)); err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
