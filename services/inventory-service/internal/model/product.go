package model

// Product is a catalog entry. Quantity is the current stock level; the saga
// deducts from it without a floor clamp, so a burst of captured orders can
// drive it negative and the number is surfaced as-is.
type Product struct {
	ID       string  `json:"id" redis:"id"`
	Name     string  `json:"name" redis:"name"`
	Price    float64 `json:"price" redis:"price"`
	Quantity int     `json:"quantity" redis:"quantity"`
}
