package providers

import (
	"fmt"
	"sort"
	"strings"
)

// Paystack recipient types used for Ghanaian payouts.
const (
	RecipientTypeGhipss      = "ghipss"
	RecipientTypeMobileMoney = "mobile_money"
)

const defaultRecipientName = "Withdrawal Recipient"

var mobileMoneyProviders = map[string]string{
	"MTN":        "MTN",
	"VOD":        "VOD",
	"VODAFONE":   "VOD",
	"TELECEL":    "VOD",
	"ATL":        "ATL",
	"AIRTEL":     "ATL",
	"TIGO":       "ATL",
	"AIRTELTIGO": "ATL",
}

// MobileMoneyProviderCode maps a user supplied network name to the gateway bank code.
func MobileMoneyProviderCode(provider string) (string, bool) {
	code, ok := mobileMoneyProviders[strings.ToUpper(strings.TrimSpace(provider))]
	return code, ok
}

// MissingFieldsError lists payment detail fields that are absent or unusable.
type MissingFieldsError struct {
	Method string
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("incomplete payment details for %s: missing %s", e.Method, strings.Join(e.Fields, ", "))
}

// RequiredDetailFields returns the payment_details keys a method needs.
func RequiredDetailFields(method string) []string {
	switch method {
	case "bank_transfer":
		return []string{"account_number", "bank_code"}
	case "mobile_money":
		return []string{"phone_number", "provider"}
	case "paystack_transfer":
		return []string{"recipient_code"}
	}
	return nil
}

// ValidateDetails checks details against the fields method requires.
func ValidateDetails(method string, details map[string]string) error {
	required := RequiredDetailFields(method)
	if required == nil {
		return &MissingFieldsError{Method: method, Fields: []string{"payment_method"}}
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(details[f]) == "" {
			missing = append(missing, f)
		}
	}
	if method == "mobile_money" && len(missing) == 0 {
		if _, ok := MobileMoneyProviderCode(details["provider"]); !ok {
			missing = append(missing, "provider")
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingFieldsError{Method: method, Fields: missing}
	}
	return nil
}

// BuildRecipientRequest turns a payout method and its details into a
// recipient registration. paystack_transfer has no registration step and
// is rejected here.
func BuildRecipientRequest(method string, details map[string]string, currency string) (RecipientRequest, error) {
	if err := ValidateDetails(method, details); err != nil {
		return RecipientRequest{}, err
	}

	name := strings.TrimSpace(details["account_name"])
	if name == "" {
		name = defaultRecipientName
	}

	switch method {
	case "bank_transfer":
		return RecipientRequest{
			Type:          RecipientTypeGhipss,
			Name:          name,
			AccountNumber: strings.TrimSpace(details["account_number"]),
			BankCode:      strings.TrimSpace(details["bank_code"]),
			Currency:      currency,
		}, nil
	case "mobile_money":
		code, _ := MobileMoneyProviderCode(details["provider"])
		return RecipientRequest{
			Type:          RecipientTypeMobileMoney,
			Name:          name,
			AccountNumber: strings.TrimSpace(details["phone_number"]),
			BankCode:      code,
			Currency:      currency,
		}, nil
	}
	return RecipientRequest{}, fmt.Errorf("payment method %s does not register recipients", method)
}
