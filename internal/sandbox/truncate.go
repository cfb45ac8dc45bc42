package sandbox

import "fmt"

// truncate caps s at maxChars characters, marker included, so callers
// can always distinguish "no output" from "output cut off". Applied to
// every textual response field regardless of any truncation the worker
// performed itself — the two limits are independent layers.
func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	marker := []rune(fmt.Sprintf("\n… [truncated to %d chars]", maxChars))
	head := maxChars - len(marker)
	if head < 0 {
		// A cap smaller than the marker truncates the marker too; the
		// limit holds even for pathological configs.
		return string(marker[:maxChars])
	}
	return string(runes[:head]) + string(marker)
}

// govern bounds every textual field of a response in place.
func govern(resp *Response, maxChars int) {
	resp.Stdout = truncate(resp.Stdout, maxChars)
	resp.Stderr = truncate(resp.Stderr, maxChars)
	if resp.Result != nil {
		r := truncate(*resp.Result, maxChars)
		resp.Result = &r
	}
}
