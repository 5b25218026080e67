package providers

import "strings"

// price per 1K tokens in USD, input/output
type modelPrice struct {
	Input  float64
	Output float64
}

var modelPrices = map[string]modelPrice{
	"gpt-4o":           {Input: 0.0025, Output: 0.01},
	"gpt-4o-mini":      {Input: 0.00015, Output: 0.0006},
	"gemini-2.0-flash": {Input: 0.0001, Output: 0.0004},
	"gemini-1.5-pro":   {Input: 0.00125, Output: 0.005},
	"gemini-1.5-flash": {Input: 0.000075, Output: 0.0003},
}

var defaultPrice = modelPrice{Input: 0.001, Output: 0.002}

// EstimateCost returns a rough USD cost for the given token counts. Used for
// usage records only, never for enforcement.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	price, ok := modelPrices[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		price = defaultPrice
	}
	return float64(inputTokens)/1000*price.Input + float64(outputTokens)/1000*price.Output
}
