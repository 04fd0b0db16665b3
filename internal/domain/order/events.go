package order

import (
	"time"

	"github.com/example/auction-fulfillment/internal/domain/reputation"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated             = "OrderCreated"
	EventPaymentEvidenceSubmitted = "PaymentEvidenceSubmitted"
	EventShipmentConfirmed        = "ShipmentConfirmed"
	EventDeliveryConfirmed        = "DeliveryConfirmed"
	EventOrderCancelled           = "OrderCancelled"
	EventRatingSubmitted          = "RatingSubmitted"
)

type OrderCreated struct {
	OrderID    string          `json:"order_id"`
	ProductID  string          `json:"product_id"`
	SellerID   string          `json:"seller_id"`
	BuyerID    string          `json:"buyer_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

type PaymentEvidenceSubmitted struct {
	OrderID         string    `json:"order_id"`
	BuyerID         string    `json:"buyer_id"`
	ProofRef        string    `json:"proof_ref"`
	DeliveryAddress string    `json:"delivery_address"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

type ShipmentConfirmed struct {
	OrderID           string    `json:"order_id"`
	SellerID          string    `json:"seller_id"`
	TrackingReference string    `json:"tracking_reference"`
	ShippedAt         time.Time `json:"shipped_at"`
}

type DeliveryConfirmed struct {
	OrderID     string    `json:"order_id"`
	BuyerID     string    `json:"buyer_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	SellerID    string    `json:"seller_id"`
	ProductID   string    `json:"product_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// RatingSubmitted mirrors the ledger row written in the same commit.
type RatingSubmitted struct {
	OrderID     string           `json:"order_id"`
	RatingID    string           `json:"rating_id"`
	RaterID     string           `json:"rater_id"`
	RatedUserID string           `json:"rated_user_id"`
	Value       reputation.Value `json:"value"`
	Comment     string           `json:"comment,omitempty"`
	System      bool             `json:"system"`
	SubmittedAt time.Time        `json:"submitted_at"`
}
