package settings

// Outcome codes produced by the registry itself. Custom validators may return
// any other code.
const (
	CodeValid        = "valid"
	CodeUnrecognized = "unrecognized"
	CodeForbidden    = "forbidden"
	CodeInvalidValue = "invalid_value"
	CodeInvalidType  = "invalid_type"
)

// Outcome is the verdict on one setting value.
type Outcome struct {
	Code    string
	Message string
}

func Valid() Outcome { return Outcome{Code: CodeValid} }

func (o Outcome) IsValid() bool { return o.Code == CodeValid }
