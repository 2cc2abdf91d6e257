// Package output renders command results as a table, JSON or YAML.
//
// Values from the store print as JSON text inside tables. Struct fields
// tagged `table:"bytes"` print as human readable sizes.
package output
