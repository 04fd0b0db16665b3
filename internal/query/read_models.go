package query

// Re-export read models from readmodel package
import "github.com/example/auction-fulfillment/internal/readmodel"

type OrderReadModel = readmodel.OrderReadModel
