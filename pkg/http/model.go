package http

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Error   ErrorDetail       `json:"error"`
	Details []ValidationError `json:"details,omitempty"`
}

// ErrorDetail carries the machine-readable code and the offending field.
type ErrorDetail struct {
	Code    string `json:"code" example:"ERR_GT"`
	Message string `json:"message" example:"current_price must be greater than 0"`
	Field   string `json:"field,omitempty" example:"current_price"`
}

// ValidationError represents validation error detail.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"current_price"`
	Message string                 `json:"message,omitempty" example:"current_price is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}
