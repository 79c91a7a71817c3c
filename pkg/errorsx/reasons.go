package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTTranscribe  ReasonCode = "stt_transcribe"
	ReasonSTTPoolAcquire ReasonCode = "stt_pool_acquire"
	ReasonSTTRateLimit   ReasonCode = "stt_rate_limit"

	ReasonLexiconCorrect ReasonCode = "lexicon_correct"

	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonLLMRateLimit   ReasonCode = "llm_rate_limit"
	ReasonLLMCircuitOpen ReasonCode = "llm_circuit_open"

	ReasonTTSConnect    ReasonCode = "tts_connect"
	ReasonTTSSynthesize ReasonCode = "tts_synthesize"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonProtocolMalformed         ReasonCode = "protocol_malformed"

	ReasonConfigMissing  ReasonCode = "config_missing"
	ReasonConfigInactive ReasonCode = "config_inactive"

	ReasonSessionDuplicate ReasonCode = "session_duplicate"
	ReasonStoreWrite       ReasonCode = "store_write"
	ReasonEventPublish     ReasonCode = "event_publish"
)

// Transient reports whether a failure is scoped to one pipeline run and the
// call should carry on.
func (r ReasonCode) Transient() bool {
	switch r {
	case ReasonSTTTranscribe, ReasonSTTPoolAcquire, ReasonSTTRateLimit,
		ReasonLexiconCorrect,
		ReasonLLMGenerate, ReasonLLMRateLimit, ReasonLLMCircuitOpen,
		ReasonTTSConnect, ReasonTTSSynthesize, ReasonTransportSend:
		return true
	default:
		return false
	}
}
