// Package sym defines the glyphs scribe uses in CLI help and log lines.
// They are stable across commands, logs, and documentation.
package sym

// Command glyphs. Each one heads a top-level command.
const (
	AM    = "≡" // am: configuration and system settings
	IX    = "⨳" // ix: ingest media and run transcription
	Pulse = "꩜" // pulse: jobs, phases, retries
	DB    = "⊔" // database/storage layer, content records
)

// Lifecycle glyphs used by the orchestrator logger.
const (
	PulseOpen  = "✿" // a processing run is starting
	PulseClose = "❀" // a processing run is closing
)

// SymbolToCommand maps a glyph to the CLI command it heads.
var SymbolToCommand = map[string]string{
	AM:    "am",
	IX:    "run",
	Pulse: "jobs",
	DB:    "records",
}

// CommandToSymbol is the reverse of SymbolToCommand.
var CommandToSymbol = map[string]string{
	"am":      AM,
	"run":     IX,
	"jobs":    Pulse,
	"records": DB,
}

// CommandDescriptions gives a one-line description per command.
var CommandDescriptions = map[string]string{
	"am":      "Manage scribe configuration",
	"run":     "Add media files and transcribe them",
	"jobs":    "Show transcription job history",
	"records": "Inspect content records used for deduplication",
}

// Prefix returns the glyph for command followed by a space, or "" if the
// command has no glyph.
func Prefix(command string) string {
	if s, ok := CommandToSymbol[command]; ok {
		return s + " "
	}
	return ""
}
