// Package gitdeps reads gclient-style DEPS files and checks out the listed git
// repositories at their pinned revisions.
//
// DEPS files are Python literals with a few helper calls, which makes them valid
// Starlark. They are evaluated with go.starlark.net using a small set of predeclared
// builtins:
//
//	Var(name)  returns the placeholder "{name}" which is expanded from vars afterwards
//	Str(value) returns value unchanged
//
// Conditions attached to dependencies are evaluated as Starlark expressions against the
// vars dict plus the checkout_<os> flags of the host platform.
package gitdeps
