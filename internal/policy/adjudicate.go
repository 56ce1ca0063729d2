package policy

import "strings"

const (
	GeneralDisclaimer    = "This information is for educational purposes about Thai traditional medicine and is not medical advice."
	UngroundedDisclaimer = "This answer is not grounded to specific citations; verify with trusted sources."
	ClinicalRiskNotice   = "Potential clinical risks mentioned; consult a qualified healthcare professional."
)

var riskKeywords = []string{
	"pregnancy", "pregnant", "warfarin", "anticoagulant", "bleeding",
	"ตั้งครรภ์", "หญิงมีครรภ์", "วาร์ฟาริน", "เลือดออก", "ยาต้านการแข็งตัวของเลือด",
}

// Adjudicate returns the disclaimers that accompany an answer. It never
// changes the answer itself.
func Adjudicate(answer string, citations int) []string {
	disclaimers := []string{GeneralDisclaimer}

	if citations == 0 {
		disclaimers = append(disclaimers, UngroundedDisclaimer)
	}

	if hasRiskKeyword(answer) {
		disclaimers = append(disclaimers, ClinicalRiskNotice)
	}

	return disclaimers
}

func hasRiskKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range riskKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
