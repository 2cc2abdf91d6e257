// Package confloader loads nestkv configuration with koanf.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. Values already present in the target struct (defaults)
//  2. A YAML configuration file
//  3. Environment variables with the NESTKV_ prefix
//  4. Command-line flags, passed in as a map
//
// Environment variable names map to keys by lower-casing and turning a
// double underscore into a level separator, so NESTKV_STORE__SYNC_MODE
// sets store.sync_mode.
//
// Watcher reports changes to the configuration file so long-running
// commands can re-apply settings that are safe to change at runtime.
package confloader
