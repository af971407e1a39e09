package models

// PaymentResult is the outcome of verifying a client-supplied payment
// proof with the external payment authorization service. The caller is
// expected to have charged the customer before calling commit.
type PaymentResult struct {
	Succeeded bool   `json:"succeeded"`
	Reference string `json:"reference"`
	Detail    string `json:"detail,omitempty"`
}
