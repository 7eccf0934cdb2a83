// Package modelsocket provides a Go client for the ModelSocket protocol.
//
// ModelSocket is a stateful request/response protocol carried over a
// single full-duplex WebSocket connection. The server hosts long-lived
// language-model sequences; the client multiplexes many sequences over
// one connection, streams generated text back to callers, and
// transparently services model-initiated tool invocations.
//
// # Thread Safety
//
// [Client] and [Seq] are safe for concurrent use by multiple goroutines.
// However, only one [Seq.Generate] call can be active per sequence at a
// time. [GenStream] should only be consumed by a single goroutine.
//
// # Basic Usage
//
//	ctx := context.Background()
//
//	// Connect to server; an empty api key falls back to MODELSOCKET_API_KEY
//	client, err := modelsocket.Connect(ctx, "wss://example.com/ws", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close(ctx)
//
//	// Open a sequence
//	seq, err := client.Open(ctx, "model-name")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer seq.Close(ctx)
//
//	// Append user message
//	err = seq.Append(ctx, "Hello!", modelsocket.AsUser())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Generate response using iterator
//	stream, err := seq.Generate(ctx, modelsocket.GenerateAsAssistant())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for text, err := range stream.TextStream(ctx) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Print(text)
//	}
//
// # Tool Calling
//
// Open a sequence with tools enabled and install tools on it; when the
// model emits a tool call mid-generation, the client invokes the
// matching tool and returns the results on the same correlation id so
// the interrupted generation resumes in place:
//
//	seq, err := client.Open(ctx, model, modelsocket.WithTools())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = seq.Install(ctx, modelsocket.NewFuncTool(def, fn))
//
// # Environment
//
// MODELSOCKET_API_KEY supplies the bearer secret attached to the
// handshake when no explicit key is given. MODELSOCKET_LOG
// (debug, info, error) gates the default logger; unset disables
// logging entirely. [WithLogger] overrides it.
//
// # Observability
//
// Use [WithLogger], [WithOnSend], and [WithOnReceive] to add logging and
// monitoring to the client:
//
//	client, err := modelsocket.Connect(ctx, url, apiKey,
//	    modelsocket.WithLogger(slog.Default()),
//	    modelsocket.WithOnSend(func(req *modelsocket.MSRequest) {
//	        metrics.RequestsSent.Inc()
//	    }),
//	)
package modelsocket
