// SPDX-License-Identifier: GPL-3.0-or-later

package spio

// Init configures the subsystem's shared dependencies (the dialer,
// error classifier, resolver backend, and logger) and, if the registry
// has not yet registered its built-in transports, registers them
// immediately, threading cfg and logger through their dial pipelines.
//
// Init is idempotent and safe to call multiple times; it returns an
// error only if registering the built-in transports fails. Transports
// keep the cfg and logger they were registered with: once they are
// registered (by an earlier Init, or lazily by the first Dial or
// Listen), a later Init only changes the logger that newly opened
// sockets pick up and the values used if [Fini] is followed by a new
// registration; it does not reconfigure the registered transports.
func Init(cfg *Config, logger SLogger) error {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = DefaultSLogger()
	}

	globalRegistry.mu.Lock()
	alreadyInited := globalRegistry.inited
	globalRegistry.cfg = cfg
	globalRegistry.logger = logger
	globalRegistry.mu.Unlock()

	if alreadyInited {
		return nil
	}
	return globalRegistry.sysInit()
}

// Fini tears down the subsystem: every registered transport's finalizer
// runs, the registry is emptied, and the shared resolver's worker pool
// stops. Safe to call without a prior successful [Init].
func Fini() {
	globalRegistry.sysFini()
	globalResolver.Close()
}
