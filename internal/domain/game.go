package domain

import "strings"

// gameAliases maps informal or legacy mod directory names to the canonical
// game code used for storage keys. Unknown codes pass through lowercased.
var gameAliases = map[string]string{
	"cstrike":        "css",
	"counter-strike": "css",
	"csgo":           "csgo",
	"tf2":            "tf",
	"teamfortress":   "tf",
	"dod":            "dods",
	"hl2dm":          "hl2mp",
	"l4d1":           "l4d",
}

// NormalizeGameCode resolves informal game codes to their canonical form.
// An empty code falls back to def.
func NormalizeGameCode(code, def string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		code = strings.ToLower(strings.TrimSpace(def))
	}
	if canonical, ok := gameAliases[code]; ok {
		return canonical
	}
	return code
}
