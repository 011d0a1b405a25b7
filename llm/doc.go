// Package llm defines the collaborator contracts the stage transition engine
// consumes: a text Generator and a context Retriever.
//
// Neither collaborator is implemented here. Production deployments plug in a
// model client and a vector search client; tests use the fakes in llmtest.
//
// # Completion Requests
//
// Use functional options to configure a request:
//
//	req := llm.NewCompletionRequest(prompt,
//	    llm.WithMaxTokens(512),
//	    llm.WithTemperature(0.8),
//	    llm.WithPurpose("hooks"),
//	)
//	text, err := gen.Generate(ctx, req)
//
// # Failure semantics
//
// A Generator error fails the conversation turn that issued it. A Retriever
// error is masked by the engine with a fixed sentinel passage, so retrieval
// outages degrade answers instead of failing them.
package llm
