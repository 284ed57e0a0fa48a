/*
Package composer assembles pipeline elements into a runnable description.

Compose filters unset stages, checks that the remaining stages form a valid
pipeline (one source, one sink, Model and Postprocess present together with
the same wrapper), renders every fragment against the parameter store and
joins them in stage order:

	p := params.Default()
	desc, err := composer.Compose("pod", p, src, pre, model, post, sink)
	if err != nil {
	    var cerr *composer.CompositionError
	    errors.As(err, &cerr) // cerr.Err is ErrNoSource, ErrNoSink, ...
	}
	fmt.Println(desc) // filesrc ... ! queue ... ! filesink ...

Fragments are rendered fresh on every call, so a new parameter store is
honored without rebuilding elements. A Description also carries a stage
graph that can be exported as DOT for diagnostics.
*/
package composer
