// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package provider

import (
	"math"
)

// ModelPrice is the cost of a model in cents per million tokens.
type ModelPrice struct {
	PromptCentsPerMTok     float64
	CompletionCentsPerMTok float64
}

// PriceTable estimates turn cost from token usage. An unrecognized model
// falls back to the designated default model's pricing, so an estimate is
// always produced.
type PriceTable struct {
	prices       map[string]ModelPrice
	defaultModel string
}

// defaultPrices is the static per-model price list, cents per million
// prompt/completion tokens.
var defaultPrices = map[string]ModelPrice{
	"claude-opus-4-6":   {PromptCentsPerMTok: 1500, CompletionCentsPerMTok: 7500},
	"claude-sonnet-4-5": {PromptCentsPerMTok: 300, CompletionCentsPerMTok: 1500},
	"claude-haiku-4-5":  {PromptCentsPerMTok: 100, CompletionCentsPerMTok: 500},
	"gpt-4.1":           {PromptCentsPerMTok: 200, CompletionCentsPerMTok: 800},
	"gpt-4.1-mini":      {PromptCentsPerMTok: 40, CompletionCentsPerMTok: 160},
	"gpt-4.1-nano":      {PromptCentsPerMTok: 10, CompletionCentsPerMTok: 40},
	"gpt-5":             {PromptCentsPerMTok: 125, CompletionCentsPerMTok: 1000},
	"gpt-5-mini":        {PromptCentsPerMTok: 25, CompletionCentsPerMTok: 200},
	"o3":                {PromptCentsPerMTok: 200, CompletionCentsPerMTok: 800},
	"o4-mini":           {PromptCentsPerMTok: 110, CompletionCentsPerMTok: 440},
}

// NewPriceTable builds a PriceTable over the static price list.
// defaultModel is the pricing fallback for unrecognized models and must
// itself be priced; an unpriced default falls back to the most expensive
// known entry so estimates err on the safe side.
func NewPriceTable(defaultModel string) *PriceTable {
	t := &PriceTable{prices: defaultPrices, defaultModel: defaultModel}
	if _, ok := t.prices[defaultModel]; !ok {
		t.defaultModel = costliestModel(t.prices)
	}
	return t
}

func costliestModel(prices map[string]ModelPrice) string {
	var name string
	var max float64
	for m, p := range prices {
		if p.CompletionCentsPerMTok > max {
			max = p.CompletionCentsPerMTok
			name = m
		}
	}
	return name
}

// EstimateCents computes the local cost estimate for one call, rounded
// up to a whole cent.
func (t *PriceTable) EstimateCents(model string, usage Usage) int64 {
	price, ok := t.prices[model]
	if !ok {
		price = t.prices[t.defaultModel]
	}

	cents := float64(usage.PromptTokens)*price.PromptCentsPerMTok/1e6 +
		float64(usage.CompletionTokens)*price.CompletionCentsPerMTok/1e6
	return int64(math.Ceil(cents))
}

// Known reports whether the model has an explicit price entry.
func (t *PriceTable) Known(model string) bool {
	_, ok := t.prices[model]
	return ok
}
