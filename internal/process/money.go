package process

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// moneyToken is one numeric amount pulled from funding text, with any
// trailing magnitude suffix already applied.
type moneyToken struct {
	value float64
}

var moneyNumRe = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(million|mil\b|m\b|k\b|thousand)?`)

// detectCurrency maps a currency symbol or ISO code in text to a rate key.
// USD is the identity default.
func detectCurrency(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(text, "€") || strings.Contains(lower, "eur"):
		return "EUR"
	case strings.Contains(text, "£") || strings.Contains(lower, "gbp"):
		return "GBP"
	case strings.Contains(lower, "cad") || strings.Contains(lower, "c$"):
		return "CAD"
	case strings.Contains(lower, "aud") || strings.Contains(lower, "a$"):
		return "AUD"
	case strings.Contains(text, "¥") || strings.Contains(lower, "jpy") || strings.Contains(lower, "yen"):
		return "JPY"
	case strings.Contains(lower, "chf"):
		return "CHF"
	default:
		return "USD"
	}
}

func multiplierFor(suffix string) float64 {
	switch strings.ToLower(strings.TrimSpace(suffix)) {
	case "million", "mil", "m":
		return 1e6
	case "k", "thousand":
		return 1e3
	default:
		return 1
	}
}

// ParseMoney extracts min/max funding bounds in whole USD from free text.
// Recognized shapes: "$X", "$X - $Y", "up to $X", "minimum $X", "X to Y",
// with trailing million/k magnitudes and non-USD currencies converted via
// the rates table. A nil bound means absent.
func (p *Processor) ParseMoney(text string) (min, max *int64, warnings []string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, nil
	}

	currency := detectCurrency(text)
	rate := 1.0
	if currency != "USD" {
		if r, ok := p.rates[currency]; ok {
			rate = r
		} else {
			warnings = append(warnings, "unknown currency "+currency+", amounts left unconverted")
		}
	}

	raw := moneyNumRe.FindAllStringSubmatch(text, -1)
	var tokens []moneyToken
	var lastMult float64 = 1
	for _, m := range raw {
		clean := strings.ReplaceAll(m[1], ",", "")
		v, err := strconv.ParseFloat(clean, 64)
		if err != nil || v <= 0 {
			continue
		}
		mult := multiplierFor(m[2])
		if mult > 1 {
			lastMult = mult
		}
		tokens = append(tokens, moneyToken{value: v * mult})
	}
	if len(tokens) == 0 {
		return nil, nil, append(warnings, "no numeric amount found in funding text")
	}

	// "1.5 to 3 million" puts the magnitude on the last number only.
	if len(tokens) == 2 && lastMult > 1 && tokens[0].value < 1000 && tokens[0].value*lastMult <= tokens[1].value {
		tokens[0].value *= lastMult
	}

	toUSD := func(v float64) *int64 {
		n := int64(math.Round(v * rate))
		return &n
	}

	lower := strings.ToLower(text)
	if len(tokens) == 1 {
		v := tokens[0].value
		switch {
		case strings.Contains(lower, "up to") || strings.Contains(lower, "maximum") || strings.Contains(lower, "max "):
			zero := int64(0)
			return &zero, toUSD(v), warnings
		case strings.Contains(lower, "minimum") || strings.Contains(lower, "at least") || strings.Contains(lower, "min "):
			return toUSD(v), nil, warnings
		default:
			return toUSD(v), toUSD(v), warnings
		}
	}

	lo, hi := tokens[0].value, tokens[0].value
	for _, t := range tokens[1:] {
		if t.value < lo {
			lo = t.value
		}
		if t.value > hi {
			hi = t.value
		}
	}
	return toUSD(lo), toUSD(hi), warnings
}
