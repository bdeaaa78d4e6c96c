// Package ragcore is the agent core of a retrieval-augmented chat service.
//
// An [Agent] drives a conversation between a language model and a set of
// tools. Tools that retrieve knowledge return an [AggregateSearchResult];
// every result is numbered once per run by a [ResultCollector], the model
// cites results by that number, and a [CitationTracker] relabels the
// citations in order of first appearance while the answer streams.
//
// # Quick Start
//
//	provider := openaicompat.NewProvider(apiKey, "gpt-4o-mini", "https://api.openai.com/v1")
//	store, _ := sqlite.Open(ctx, "ragcore.db")
//
//	agent := ragcore.New("rag",
//		ragcore.WithRateLimit(ragcore.WithRetry(provider), ragcore.RPM(60)),
//		ragcore.WithSystemPrompt("Answer from the knowledge base and cite sources like [1]."),
//		ragcore.WithTools(knowledge.New(store), search.New(braveKey)),
//		ragcore.WithMessageStore(store),
//	)
//
//	http.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
//		ragcore.ServeSSE(r.Context(), w, agent, task)
//	})
//
// # Run-loops
//
// [ModeToolCalls] uses the model's native tool calling. [Agent.Execute] runs
// it to completion; [Agent.ExecuteStream] emits [Event] values (message,
// thinking, citation, tool_call, tool_result, final_answer, error, done) and
// always finishes with done.
//
// [ModeXML] asks the model to reason in <Thought>, <Action> and <Response>
// tags instead. The loop is bounded by [WithMaxSteps] and answers with
// [FallbackAnswer] when the budget runs out.
//
// # Included Implementations
//
// Providers: provider/openaicompat (raw HTTP), provider/openai (go-openai).
// Provider selection from config: provider/resolve.
// Storage: store/sqlite, store/postgres.
// Ingestion: ingest (HTML, Markdown, PDF and text into chunked documents).
// Tools: tools/knowledge, tools/search, tools/document.
// Observability: observer (OpenTelemetry).
//
// See cmd/ragcore for a complete server.
package ragcore
