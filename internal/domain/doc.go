// Package domain holds the value types shared by every chtbtr component:
// review usernames, chat profile ids, the tri-state resolution record,
// per-user notification settings and the trigger events raised by review
// hooks.
//
// Nothing in here performs I/O. Types that cross a process boundary
// (trigger events over HTTP, resolution records and settings on disk)
// carry their own encoders so every driver writes the same shapes.
package domain
