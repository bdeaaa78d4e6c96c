package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrMessageCount  = attribute.Key("llm.message_count")
	AttrToolCount     = attribute.Key("llm.tool_count")
	AttrToolNames     = attribute.Key("llm.tool_names")
	AttrToolCallCount = attribute.Key("llm.tool_call_count")
	AttrFinishReason  = attribute.Key("llm.finish_reason")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")

	AttrToolName        = attribute.Key("tool.name")
	AttrToolStatus      = attribute.Key("tool.status")
	AttrToolArgCount    = attribute.Key("tool.arg_count")
	AttrToolResultCount = attribute.Key("tool.result_count")
	AttrResultType      = attribute.Key("result.type")

	AttrAgentName      = attribute.Key("agent.name")
	AttrAgentMode      = attribute.Key("agent.mode")
	AttrAgentStatus    = attribute.Key("agent.status")
	AttrAgentCitations = attribute.Key("agent.citations")
	AttrAgentResults   = attribute.Key("agent.search_results")
	AttrEventType      = attribute.Key("event.type")
)
