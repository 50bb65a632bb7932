// Package logging builds the slog loggers used across storyforge and defines
// the standardized attribute keys components log with. Console output targets
// humans watching a terminal; JSON output targets log collectors.
package logging
