// Package watermark renders a tiled, rotated, translucent text watermark and
// mounts it as a tamper-resistant overlay.
//
// Generate turns text and Options into a PNG data URI that is used as a
// repeating CSS background. Output is deterministic: equal inputs produce
// byte-identical patterns. Mount inserts the overlay into any defense.Host
// (the in-process dom.Document, an HTML file through filehost, or a live
// Chrome page through rodhost) and arms a defense.Session that restores the
// overlay when a script removes it or rewrites its attributes.
package watermark
