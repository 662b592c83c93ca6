// Package textutil holds the text helpers shared by the stage functions:
// Unicode normalization, title casing, markup stripping and slugs.
package textutil
