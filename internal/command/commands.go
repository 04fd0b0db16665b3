package command

// Order Commands
type CreateOrder struct {
	OrderID    string `json:"order_id,omitempty"`
	ProductID  string `json:"product_id"`
	SellerID   string `json:"seller_id"`
	BuyerID    string `json:"buyer_id"`
	FinalPrice string `json:"final_price"`
}

type SubmitPaymentEvidence struct {
	OrderID         string `json:"-"`
	CallerID        string `json:"-"`
	ProofRef        string `json:"proof_ref"`
	DeliveryAddress string `json:"delivery_address"`
}

type ConfirmShipment struct {
	OrderID           string `json:"-"`
	CallerID          string `json:"-"`
	TrackingReference string `json:"tracking_reference"`
}

type ConfirmDelivery struct {
	OrderID  string `json:"-"`
	CallerID string `json:"-"`
}

type CancelOrder struct {
	OrderID  string `json:"-"`
	CallerID string `json:"-"`
	Reason   string `json:"reason"`
}

// Rating Commands
type SubmitRating struct {
	OrderID  string `json:"-"`
	CallerID string `json:"-"`
	Value    string `json:"value"`
	Comment  string `json:"comment"`
}
