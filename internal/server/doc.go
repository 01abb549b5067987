// Package server hosts the Fiber HTTP service, the request middleware chain and
// the site registry that maps Host headers onto site handlers. It also owns the
// background Supervisor that runs persist-after-respond work (cache population)
// and is awaited by main during shutdown. Keep exports narrow and accept explicit
// dependencies so tests can inject fake handlers.
package server
