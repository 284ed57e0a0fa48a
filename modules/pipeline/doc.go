/*
Package pipeline runs a composed description on an execution engine.

A Runtime moves through Created, Playing, ShuttingDown and Terminated. Run
disables quality-of-service throttling, starts the engine and hands bus
events to a dedicated goroutine. End of stream either seeks back to the start
(loop) or shuts the pipeline down; an error always shuts it down.

	engine := pipeline.NewGStreamerEngine("", logger)
	rt, err := pipeline.New(engine, "pod", desc.String(), pipeline.WithLoop(true))
	if err != nil {
	    return err
	}
	if err := rt.Run(); err != nil {
	    return err
	}
	defer rt.Shutdown()

Shutdown walks the engine through PAUSED, READY and NULL with a settle delay
between each, stops the event goroutine and waits for it. It is idempotent and
safe from any goroutine other than a Watch callback.
*/
package pipeline
