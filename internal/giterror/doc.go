// Package giterror provides error inspection capabilities for GitHub API errors.
// It centralizes the logic for identifying the different failures the
// contents and GraphQL APIs produce, so the retry channel and the CLI exit
// code mapping agree on what an error means.
package giterror
