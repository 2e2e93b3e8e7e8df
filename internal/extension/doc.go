// Package extension implements extension points: named operations on a base
// type that plugins can contribute to, override, or supply fallbacks for.
//
// A base type declares its points once, as a static ordered list:
//
//	var shellType = extension.MustType("shell",
//	    extension.Broadcast("update", update),
//	    extension.Override("prompt", prompt),
//	    extension.Fallback("react", react, ErrValue),
//	)
//
// # Variants
//
// Broadcast points run the primary implementation and then every bound
// contribution, in bind order. The first error aborts the invocation.
//
// Override points run the active override if one is bound, otherwise the
// primary. Binding is last-write-wins. What unbinding clears depends on the
// type's OverridePolicy.
//
// Fallback points try bound alternatives in bind order. An alternative whose
// error matches the point's continuable kinds is skipped; any other error
// aborts the invocation. When every alternative has been skipped the primary
// runs and its result is returned as-is.
//
// # Concurrency
//
// Every point of a Type shares the type's read/write lock. Invocations hold
// the read lock for their whole duration; Bind, Unbind and Apply hold the
// write lock. An implementation may invoke other points of its own type by
// passing on the ctx it received; the nested invocation reuses the held read
// lock. It must not bind or unbind from inside an invocation.
package extension
