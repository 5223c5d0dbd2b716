package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

var (
	symbolPattern = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]+$`)
	assetPattern  = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)
)

func ValidateOrderRequest(symbol, side, orderType, amount, price string) ValidationErrors {
	var errs ValidationErrors

	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		errs = append(errs, FieldError{Field: "symbol", Message: "symbol is required"})
	} else if !symbolPattern.MatchString(strings.ToUpper(symbol)) {
		errs = append(errs, FieldError{Field: "symbol", Message: "symbol must match BASE-QUOTE"})
	}

	side = strings.ToLower(strings.TrimSpace(side))
	if side != "buy" && side != "sell" {
		errs = append(errs, FieldError{Field: "side", Message: "side must be buy or sell"})
	}

	orderType = strings.ToLower(strings.TrimSpace(orderType))
	if orderType != "limit" && orderType != "market" {
		errs = append(errs, FieldError{Field: "type", Message: "type must be limit or market"})
	}

	if _, err := parsePositiveDecimal("amount", amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: err.Error()})
	}

	trimmedPrice := strings.TrimSpace(price)
	switch orderType {
	case "limit":
		if trimmedPrice == "" {
			errs = append(errs, FieldError{Field: "price", Message: "price is required for limit orders"})
		} else if _, err := parsePositiveDecimal("price", trimmedPrice); err != nil {
			errs = append(errs, FieldError{Field: "price", Message: err.Error()})
		}
	case "market":
		if trimmedPrice != "" {
			errs = append(errs, FieldError{Field: "price", Message: "price must be empty for market orders"})
		}
	}

	return errs
}

func ValidateWithdrawalRequest(asset, amount, address string) ValidationErrors {
	var errs ValidationErrors

	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		errs = append(errs, FieldError{Field: "asset", Message: "asset is required"})
	} else if !assetPattern.MatchString(asset) {
		errs = append(errs, FieldError{Field: "asset", Message: "asset must be 2-10 uppercase alphanumerics"})
	}

	if _, err := parsePositiveDecimal("amount", amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: err.Error()})
	}

	if strings.TrimSpace(address) == "" {
		errs = append(errs, FieldError{Field: "address", Message: "address is required"})
	}

	return errs
}

func ValidateDepositRequest(asset, amount string) ValidationErrors {
	var errs ValidationErrors

	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		errs = append(errs, FieldError{Field: "asset", Message: "asset is required"})
	} else if !assetPattern.MatchString(asset) {
		errs = append(errs, FieldError{Field: "asset", Message: "asset must be 2-10 uppercase alphanumerics"})
	}

	if _, err := parsePositiveDecimal("amount", amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: err.Error()})
	}

	return errs
}

func parsePositiveDecimal(field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal", field)
	}
	if val.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%s must be positive", field)
	}
	return val, nil
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SplitSymbol breaks BASE-QUOTE into its two assets.
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(NormalizeSymbol(symbol), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("symbol must match BASE-QUOTE")
	}
	return parts[0], parts[1], nil
}
