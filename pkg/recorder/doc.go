// Package recorder implements component C10: a workflow recorder that
// captures every plan executed while a named session is active, and a
// replayer that merges a recorded session into a single sequential
// replay plan.
package recorder
