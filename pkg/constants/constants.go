package constants

import "github.com/go-playground/validator/v10"

// Validate is the shared validator instance. DTOs register no custom
// rules, so one instance serves the whole application.
var Validate = validator.New(validator.WithRequiredStructEnabled())

// ContextKey is the type used for all values the framework stores on a
// request or task context. Typed keys avoid collisions with third-party
// middleware that stores plain strings.
type ContextKey string

const (
	AppKey       ContextKey = "app"
	PoolKey      ContextKey = "pool"
	TxKey        ContextKey = "tx"
	LoggerKey    ContextKey = "logger"
	ParamsKey    ContextKey = "params"
	RequestStart ContextKey = "request_start"
)
