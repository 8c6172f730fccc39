package api

// CatalogModel is the public view of a shadow model. Provider
// connection details never appear here.
type CatalogModel struct {
	ID                string  `json:"id"`
	Object            string  `json:"object"` // "model"
	DisplayName       string  `json:"display_name"`
	PricingInputPerK  float64 `json:"pricing_input_per_k_tokens"`
	PricingOutputPerK float64 `json:"pricing_output_per_k_tokens"`
}

// CatalogResponse mirrors the OpenAI list shape.
type CatalogResponse struct {
	Object string         `json:"object"` // "list"
	Data   []CatalogModel `json:"data"`
}

// Rate-limit headers attached to every proxied call.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)
