package dto

type CardCheckoutRequest struct {
	ProductID string `json:"product_id"`
	Nonce     string `json:"nonce"`
}

type CardCheckoutResponse struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type EntitlementResponse struct {
	ProductID string `json:"product_id"`
	Source    string `json:"source"`
	GrantedAt string `json:"granted_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
