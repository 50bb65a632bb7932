// Package config loads, validates, and defaults the TOML configuration shared
// by the storyforge CLI and the storyforged daemon. Provider API keys overlay
// from the environment so secrets stay out of the config file.
package config
