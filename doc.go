// Package pumped provides a graph-based dependency injection and reactive
// execution framework for Go.
//
// # Overview
//
// Pumped organizes code around three core concepts:
//
//  1. Executors: declarative nodes that produce a value from dependencies.
//  2. Scopes: graph instances that resolve, cache, and react to updates.
//  3. Flows: short-lived, journaled executions that run atop a scope.
//
// # Basic usage
//
//	scope := pumped.NewScope()
//
//	config := pumped.Provide(func(ctx *pumped.ResolveCtx) (*Config, error) {
//	    return &Config{Port: 8080}, nil
//	})
//
//	server := pumped.Derive1(
//	    config,
//	    func(ctx *pumped.ResolveCtx, cfg *pumped.Accessor[*Config]) (*Server, error) {
//	        c, _ := cfg.Get()
//	        return NewServer(c.Port), nil
//	    },
//	)
//
//	srv, err := pumped.Resolve(context.Background(), scope, server)
//
// # Dependency access modes
//
// A dependency reference names how the scope supplies the value to a
// dependent, never a new executor:
//
//	db.Value()    // default: supply the resolved value
//	db.Reactive() // supply the value, and re-run the dependent on update
//	db.Lazy()     // supply an accessor; resolution deferred to first use
//	db.Static()   // supply an accessor that never triggers a re-run
package pumped
