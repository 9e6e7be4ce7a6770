package observability

const (
	AttrServiceName     = "service.name"
	AttrServiceVersion  = "service.version"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrTurnKind        = "turn.kind"
	AttrCollection      = "retrieval.collection"
	AttrRetrievalArm    = "retrieval.arm"
	AttrErrorType       = "error.type"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"

	SpanTurn        = "discovery.turn"
	SpanLLMRequest  = "discovery.llm_request"
	SpanRetrieval   = "discovery.retrieval"
	SpanPipeline    = "discovery.pipeline"
	SpanCuration    = "discovery.curation"
	SpanHTTPRequest = "http.request"

	DefaultServiceName = "reelix"
)
