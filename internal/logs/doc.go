// Package logs reads mio and miod log files for the CLI.
//
// Last returns the final lines of a file with bounded memory, ReadFrom
// resumes at a byte offset, and Follow streams appended lines until its
// context ends. Offsets only ever advance past complete lines, so a writer
// caught mid-line is picked up on the next read. A file that shrinks below
// the saved offset (a new miod run replacing miod.log) is read from the
// start.
package logs
