package serrors

// BaseError is a structured error carrying a stable machine-readable code
// alongside the human-readable message. API layers translate the code into
// response envelopes, so codes must stay backwards compatible.
type BaseError struct {
	Code         string
	Message      string
	LocaleKey    string
	TemplateData map[string]string
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{
		Code:      code,
		Message:   message,
		LocaleKey: localeKey,
	}
}

func (e *BaseError) Error() string {
	return e.Message
}

// WithTemplateData returns a copy of the error with interpolation data
// attached. The receiver is not mutated so shared sentinels stay constant.
func (e *BaseError) WithTemplateData(data map[string]string) *BaseError {
	clone := *e
	clone.TemplateData = data
	return &clone
}
