package detector

import "regexp"

// spinnerGlyphs is the braille-spinner cycle used by most CLI agent frontends.
var spinnerGlyphs = []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}

func isSpinnerGlyph(r rune) bool {
	for _, g := range spinnerGlyphs {
		if g == r {
			return true
		}
	}
	return false
}

var (
	idlePromptPattern = regexp.MustCompile(`(?m)^[>❯]\s*(\x1b\[[0-9;]*m)?\s*$`)

	thinkingVerbPattern = regexp.MustCompile(`\b(Thinking|Processing|Analyzing|Reading)\b`)
	codingVerbPattern   = regexp.MustCompile(`\b(Writing|Coding|Channelling|Generating|Editing)\b`)

	toolUsePattern = regexp.MustCompile(`(?m)^\s*(Running:|Executing:|Read\(|Bash\(|Grep\()`)

	confirmationPattern = regexp.MustCompile(`(?i)\[Y/n\]|\[y/N\]|Allow\?|Proceed\?|Press Enter`)

	sessionIDPattern   = regexp.MustCompile(`(?i)session:\s*([a-zA-Z0-9-]+)`)
	modelNamePattern   = regexp.MustCompile(`(?i)\bmodel[:=]\s*([a-zA-Z0-9.\-]+)`)
	tokenCountPattern  = regexp.MustCompile(`(?m)(\d+)\s+tokens\s*$`)
	spinnerDescPattern = regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]\s*([^\n]{1,80})`)
)

// hasSpinner reports whether text contains any braille-spinner glyph.
func hasSpinner(text string) bool {
	for _, r := range text {
		if isSpinnerGlyph(r) {
			return true
		}
	}
	return false
}
