package readmodel

import "time"

// OrderReadModel is the per-participant order summary kept by the projector.
type OrderReadModel struct {
	ID                 string    `json:"id"`
	ProductID          string    `json:"product_id"`
	SellerID           string    `json:"seller_id"`
	BuyerID            string    `json:"buyer_id"`
	FinalPrice         string    `json:"final_price"`
	Status             string    `json:"status"`
	TrackingReference  string    `json:"tracking_reference,omitempty"`
	SellerRating       string    `json:"seller_rating,omitempty"`
	BuyerRating        string    `json:"buyer_rating,omitempty"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
	Version            int       `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Involves reports whether the user is the buyer or the seller.
func (o *OrderReadModel) Involves(userID string) bool {
	return o.SellerID == userID || o.BuyerID == userID
}

// RoleOf returns "seller", "buyer" or "" for the given user.
func (o *OrderReadModel) RoleOf(userID string) string {
	switch userID {
	case o.SellerID:
		return "seller"
	case o.BuyerID:
		return "buyer"
	}
	return ""
}
