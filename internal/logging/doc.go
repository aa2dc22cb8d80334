// Package logging provides structured, rotating file logging for vsctoolbox.
// Records are written as JSON to a rotating file under ~/.vsctoolbox/logs/;
// the CLI's default and --debug presets also copy them to stderr, and
// --debug lowers the level from info to debug.
package logging
