package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldErrorType  = "error_type"
	FieldOperation  = "operation"
	FieldTool       = "tool"
	FieldExpenseID  = "expense_id"
	FieldAmount     = "amount"
	FieldCategory   = "category"
	FieldStartDate  = "start_date"
	FieldEndDate    = "end_date"
	FieldTransport  = "transport"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentAMQP    = "amqp"
	ComponentStorage = "storage"
	ComponentService = "service"
	ComponentTools   = "tools"
	ComponentCache   = "cache"
)

// Operations mirror the ledger operations.
const (
	OpAdd       = "add"
	OpList      = "list"
	OpSummarize = "summarize"
	OpDelete    = "delete"
	OpEdit      = "edit"
	OpCredit    = "credit"
	OpStartup   = "startup"
	OpShutdown  = "shutdown"
)

// ErrorTypes classify failures for log queries.
const (
	ErrorTypeValidation  = "validation_error"
	ErrorTypeNotFound    = "not_found"
	ErrorTypeStorage     = "storage_unavailable"
	ErrorTypeTimeout     = "timeout"
	ErrorTypeBadRequest  = "bad_request"
	ErrorTypeUnknownTool = "unknown_tool"
	ErrorTypeInternal    = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds the error message and its classification
func (f LogFields) WithError(err error, errorType string) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
		f[FieldErrorType] = errorType
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithTool(tool string) LogFields {
	f[FieldTool] = tool
	return f
}

func (f LogFields) WithExpenseID(id int64) LogFields {
	f[FieldExpenseID] = id
	return f
}

func (f LogFields) WithDateRange(start, end string) LogFields {
	f[FieldStartDate] = start
	f[FieldEndDate] = end
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
