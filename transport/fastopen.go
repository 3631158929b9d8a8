package transport

import "net"

// applyFastOpen would enable TCP_FASTOPEN on the listening socket via
// net.ListenConfig.Control. Go's standard library has no portable way to
// request it (unlike SO_REUSEPORT, there's no per-OS constant exposed
// without a syscall build-tag matrix per platform), so this is a no-op on
// every platform: the config flag is accepted and logged once at startup
// by cmd/trojan rather than silently ignored.
func applyFastOpen(_ *net.ListenConfig) {}
