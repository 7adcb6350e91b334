package simulator

import (
	"strings"

	"github.com/google/uuid"

	"github.com/openfroyo/parity/pkg/engine"
)

// idNamespace scopes the name-based UUIDs behind simulated business ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://parity.openfroyo.dev/simulator"))

// stableHex returns n hex characters derived from the work item and a kind.
func stableHex(w engine.WorkItem, kind string, n int) string {
	id := uuid.NewSHA1(idNamespace, []byte(kind+":"+w.Key()))
	return strings.ReplaceAll(id.String(), "-", "")[:n]
}

func randomHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// ApplicationID returns the application id the simulator issues for w.
func ApplicationID(w engine.WorkItem) string {
	return "app_" + stableHex(w, "application", 12)
}

// PolicyID returns the policy id the simulator issues for w.
func PolicyID(w engine.WorkItem) string {
	return "policy_" + stableHex(w, "policy", 12)
}

// PolicyNumber returns the policy number the simulator issues for w.
func PolicyNumber(w engine.WorkItem) string {
	return "POL" + strings.ToUpper(stableHex(w, "policy_number", 8))
}

func discountedPremium() float64 {
	return BasePremium - BasePremium*CouponDiscount
}

func customerData() map[string]interface{} {
	return map[string]interface{}{
		"customer_name":  DefaultCustomer,
		"customer_email": "john.doe@example.com",
		"customer_phone": "+60123456789",
		"date_of_birth":  "1990-01-01",
		"address": map[string]interface{}{
			"street":      "123 Main Street",
			"city":        "Kuala Lumpur",
			"state":       "Selangor",
			"postal_code": "50000",
			"country":     "Malaysia",
		},
	}
}

func policySummary(w engine.WorkItem) map[string]interface{} {
	return map[string]interface{}{
		"policy_id":     PolicyID(w),
		"policy_number": PolicyNumber(w),
		"category":      w.Category,
		"product_id":    w.Product,
		"plan_id":       w.Plan,
		"premium":       discountedPremium(),
		"policy_status": "active",
	}
}

func policyDetails(w engine.WorkItem) map[string]interface{} {
	return map[string]interface{}{
		"status":        "success",
		"policy_id":     PolicyID(w),
		"policy_number": PolicyNumber(w),
		"category":      w.Category,
		"product_id":    w.Product,
		"plan_id":       w.Plan,
		"premium":       discountedPremium(),
		"sum_insured":   SumInsured,
		"currency":      Currency,
		"policy_status": "active",
		"start_date":    "2026-02-01",
		"end_date":      "2027-01-31",
		"benefits": []interface{}{
			"Third Party Liability",
			"Own Damage",
			"Windscreen Coverage",
			"Legal Liability to Passengers",
		},
	}
}

// coverage describes what the plan covers; third-party plans exclude own damage.
func coverage(w engine.WorkItem) map[string]interface{} {
	c := map[string]interface{}{
		"type":                w.Plan,
		"vehicle_type":        "Car",
		"vehicle_make":        "Toyota",
		"vehicle_model":       "Camry",
		"registration_number": "ABC1234",
		"own_damage":          true,
	}
	if strings.Contains(w.Plan, "THIRD_PARTY") {
		c["own_damage"] = false
	}
	return c
}
