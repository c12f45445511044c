package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldError         = "error"
	FieldTransport     = "transport"
	FieldVariant       = "variant"
	FieldRecords       = "records"
	FieldCompartmentID = "compartment_id"
	FieldUpdateMode    = "update_mode"
	FieldWindow        = "window"
	FieldBytes         = "bytes"
)

// Components
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentIngest    = "ingest"
	ComponentSession   = "session"
	ComponentMQTT      = "mqtt"
	ComponentFeed      = "feed"
	ComponentSimulator = "simulator"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentTrace     = "trace"
)

// Transports a payload can arrive on.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportFeed      = "feed"
	TransportAMQP      = "amqp"
	TransportMQTT      = "mqtt"
)

// LogFields builds a set of structured log attributes.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithPayload adds the fields describing one ingested payload.
func (f LogFields) WithPayload(transport, variant string, records int) LogFields {
	f[FieldTransport] = transport
	f[FieldVariant] = variant
	f[FieldRecords] = records
	return f
}

// ToSlice converts LogFields to slog key/value pairs.
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
