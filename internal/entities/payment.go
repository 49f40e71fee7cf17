package entities

// ChargeRequest asks the gateway to collect money for a wallet recharge.
type ChargeRequest struct {
	OwnerID   string
	Amount    int64
	Currency  string
	Reference string
}

type Charge struct {
	ExternalOrderID string `json:"external_order_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Reference       string `json:"reference"`
}

// ChargeVerification is the gateway's view of a charge.
type ChargeVerification struct {
	ExternalOrderID   string
	ExternalPaymentID string
	Captured          bool
	Amount            int64
	Currency          string
	OwnerID           string
}
