package domain

type Cart struct {
	CatalogID  string     `bson:"catalog_id" json:"catalogId"`
	Items      []CartItem `bson:"items" json:"items"`
	TotalMinor int64      `bson:"total_minor" json:"totalMinor"`
	TotalMajor float64    `bson:"total_major" json:"totalMajor"`
}

type CartItem struct {
	ProductID      string  `bson:"product_id" json:"productId"`
	ProductName    string  `bson:"product_name,omitempty" json:"productName,omitempty"`
	Quantity       int     `bson:"quantity" json:"quantity"`
	UnitPriceMinor int64   `bson:"unit_price_minor" json:"unitPriceMinor"`
	UnitPriceMajor float64 `bson:"unit_price_major" json:"unitPriceMajor"`
	LineTotalMajor float64 `bson:"line_total_major" json:"lineTotalMajor"`
}

// LineTotalMinor is the authoritative line amount.
func (i CartItem) LineTotalMinor() int64 {
	return i.UnitPriceMinor * int64(i.Quantity)
}

// DisplayName falls back to the retailer id when the catalog sent no name.
func (i CartItem) DisplayName() string {
	if i.ProductName != "" {
		return i.ProductName
	}
	return i.ProductID
}

// NewCart builds a cart and derives every total from minor units.
func NewCart(catalogID string, items []CartItem) *Cart {
	cart := &Cart{
		CatalogID: catalogID,
		Items:     make([]CartItem, 0, len(items)),
	}
	for _, item := range items {
		item.UnitPriceMajor = MinorToMajor(item.UnitPriceMinor)
		item.LineTotalMajor = MinorToMajor(item.LineTotalMinor())
		cart.TotalMinor += item.LineTotalMinor()
		cart.Items = append(cart.Items, item)
	}
	cart.TotalMajor = MinorToMajor(cart.TotalMinor)
	return cart
}

func (c *Cart) ItemCount() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}
