package storefront

// Item is one line of an add-to-cart request.
type Item struct {
	VariantID   int64  `json:"id"`
	Quantity    int    `json:"quantity"`
	SellingPlan string `json:"selling_plan,omitempty"`
}

// LineItem is a cart line as returned by the storefront.
type LineItem struct {
	ID             int64  `json:"id"`
	VariantID      int64  `json:"variant_id"`
	Key            string `json:"key"`
	Title          string `json:"title"`
	Quantity       int    `json:"quantity"`
	Price          int64  `json:"price"`
	FinalLinePrice int64  `json:"final_line_price"`
	SellingPlanID  int64  `json:"selling_plan_id,omitempty"`
}

type Cart struct {
	Token      string     `json:"token"`
	ItemCount  int        `json:"item_count"`
	TotalPrice int64      `json:"total_price"`
	Currency   string     `json:"currency"`
	Items      []LineItem `json:"items"`
}
