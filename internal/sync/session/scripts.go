package session

// Well-known scripts understood by every Session implementation. They are
// plain JS function declarations; the first argument, where present, is the
// element to inspect. Keeping them here lets condition builders and scope
// navigation stay protocol-agnostic while still going through
// EvaluateScript.
const (
	// ScriptDocumentReady reports whether the scope's document has
	// finished parsing. Evaluated with no arguments.
	ScriptDocumentReady = `function() {
		const d = this.ownerDocument || this.document || this;
		return d.readyState === "complete" || d.readyState === "interactive";
	}`

	// ScriptIsVisible reports whether the element takes up layout space
	// and is not hidden via CSS.
	ScriptIsVisible = `function(el) {
		if (!el.isConnected) { return false; }
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 &&
			s.visibility !== "hidden" && s.display !== "none";
	}`

	// ScriptIsClickable reports whether the element is visible and
	// enabled for pointer interaction.
	ScriptIsClickable = `function(el) {
		if (!el.isConnected || el.disabled) { return false; }
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 &&
			s.visibility !== "hidden" && s.display !== "none" &&
			s.pointerEvents !== "none";
	}`

	// ScriptShadowRoot retrieves the element's open shadow root. Sessions
	// return the root as a ContextHandle string, or ErrNoShadowRoot when
	// the element has none or the root is closed to scripting.
	ScriptShadowRoot = `function(el) { return el.shadowRoot; }`

	// ScriptClick dispatches a click on the element. Used by flows that
	// trigger window-opening actions.
	ScriptClick = `function(el) { el.click(); return true; }`
)
