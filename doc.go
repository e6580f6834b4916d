/*
Package vardir implements a typed variable directory: a fixed registry of
named, typed variables over a single backing arena, for live introspection
and control of a running process.

We implement:

1. Schemas, declaring the full variable set up front (scalars, strings,
blobs and function entries), usually from generated declaration code.

2. Directories, the built form: path lookup, ordered enumeration, dense
integer keys, and a buffer-to-key reverse mapping for external adapters.

3. Typed accessors, checking the declared type on every access and funneling
every write through a single change-detecting path.

4. Notification chains, middleware-style hooks composed at construction that
observe value-changing writes.

Satellite packages build adapters on top: persist (parameter save/restore on
Bolt), tracelog (append-only mutation capture and replay), prom (Prometheus
collector).

# Technical Details

**Arena.**
All storage-backed variables live in one []byte arena, laid out in
declaration order. A Buffer is an (offset, size) window into the arena, not a
bare pointer, which keeps the reverse mapping an index lookup.

**Keys.**
Each storage variable gets a positive integer key at build time, assigned
densely from 1 in declaration order and stable for the directory's lifetime.
Key 0 is reserved to mean “no key”; function entries carry it, since they
have no storage to address.

**Change detection.**
A set encodes the new value and byte-compares it against the window. Equal
bytes mean no write, no modcount bump and no notification. String windows
are kept NUL-padded past the terminator so their byte form is canonical.

## Binary encoding

Scalars are stored little-endian at the type's width. Integers sign-extend
through a uint64 lane on the way in and truncate on the way out; floats
carry their IEEE bit patterns. Strings are C-style NUL-terminated within
their declared capacity, so a value cannot itself contain NUL. Blobs are raw
windows: the whole declared size is the value.

**Fingerprint**: xxhash64 over the ordered layout (per variable: path, NUL,
type tag byte, uvarint size). Persisted parameters and trace files record it
and refuse to load into a directory with a different layout.
*/
package vardir
