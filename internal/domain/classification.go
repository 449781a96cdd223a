package domain

// ClassificationResult is the normalized output of one classifier run over a
// single student message. It is always well-formed: malformed upstream output
// is replaced by UnavailableClassification before it reaches any consumer.
type ClassificationResult struct {
	Topic        string `json:"topic"`
	IsStruggling bool   `json:"isStruggling"`
	Reason       string `json:"reason"`
}

// UnavailableClassification is the default non-struggling result substituted
// when the classifier is unreachable, times out, or returns malformed output.
func UnavailableClassification() ClassificationResult {
	return ClassificationResult{
		Topic:        "",
		IsStruggling: false,
		Reason:       "classification unavailable",
	}
}
