package model

// AppError is the error payload shared by every stage and returned by the HTTP layer.
type AppError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
	Stage   string `json:"stage" yaml:"stage"`

	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`       // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty"` // short excerpt of the offending input
	Hint    string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

type ErrorResponse struct {
	Error AppError `json:"error"`
}
