// Package capture provides screen sources for the recorder.
//
// Two backends are available:
//   - x11: talks the X11 protocol directly and reports the server's native
//     packed layout (32-bit BGRA or 24-bit BGR) together with its row stride.
//   - screenshot: portable capture of the primary display as RGBA.
//
// Both capture the full extent of the display; the region is fixed when the
// source is opened.
package capture
