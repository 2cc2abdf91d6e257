// Package buildinfo reports the version of the nestkv binary.
//
// Version, Commit and BuildTime are injected at build time:
//
//	go build -ldflags "-X github.com/yndnr/nestkv/internal/infra/buildinfo.Version=v0.3.0" ./cmd/nestkv
//
// When they are not set, values recorded by the Go toolchain in the
// binary (module version, vcs.revision, vcs.time) are used instead.
package buildinfo
