package advisor

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/openai/openai-go"
)

// DefaultPolicy is routed to when no known policy matches.
const DefaultPolicy = "General Insurance"

// KnownPolicies are the policy documents available for retrieval. The names
// match the Policy_Name metadata of the ingested documents.
var KnownPolicies = []string{
	"Bajaj_Allianz_Network_List",
	"CARE-PLUS",
	"Bajaj_My Health Care",
	"Care_Ultimate_Care",
	"Tata_AIG_Network_List",
	"StarHealth_Assure",
	"Care_Freedom",
	"ICICI_Max_Protect_Classic",
	"NivaBupa Rise",
	"NivaBupa_Go_Active",
	"Star_Health_Network_List",
	"ICICI Elevate",
	"ICICI_Health_AdvantEdge",
	"HDFC-optima_secure",
	"AdityaBirla_Activ_Fit",
	"Tata_Aig_Medicare",
	"Care Senior Health Advantage",
	"HDFC_Ergo_Energy_Gold",
	"NivaBupa_Aspire",
	"AdityaBirla_Activ_Health_Platinum_Enhanced",
	"TATA_AIG_Medicare_Plus",
	"NivaBupa_Health_Companion",
	"StarHealth_Cardiac-Care",
	"NivaBupa_Health_Pulse_Enhanced",
	"Galaxy_Promise - Elite",
	"HDFC_Optima_Restore",
	"StarHealth_Comprehensive",
	"Care Joy",
	"NivaBupa_Health_Premia",
	"Care Supreme Combo",
	"NivaBupa Health ReAssure",
	"Care_Network_List",
	"AdityaBirla_Activ Health Platinum Essential",
	"AdityaBirla_activ_one",
	"ICICI_MaxProtect",
	"Care Supreme Senior Premium",
	"NivaBupa_ReAssure",
	"ICICI_Supertopup_healthbooster",
	"Star Health_Super Star",
	"StarHealth_Smart_Health_Pro",
	"StarHealthMediClassic",
	"ReAssure 2.0 bronze Plus",
	"Star_Health_Young Star Gold Plan",
	"Care Senior",
	"NivaBupa_Aspire_Gold",
	"CARE Heart",
	"Care_Advantage",
	"NivaBupa_Arogya_Sanjeevani",
	"CARE SUPREME",
	"TATA_AIG_Medicare_Lite",
}

var knownPolicySet = func() map[string]bool {
	set := make(map[string]bool, len(KnownPolicies))
	for _, name := range KnownPolicies {
		set[name] = true
	}
	return set
}()

// IsKnownPolicy reports whether name is one of KnownPolicies.
func IsKnownPolicy(name string) bool {
	return knownPolicySet[name]
}

func routerSchema() genai.Schema {
	enum := make([]interface{}, len(KnownPolicies))
	for i, name := range KnownPolicies {
		enum[i] = name
	}
	return genai.Schema{
		Name:        "route_policies",
		Description: "List of applicable insurance policies for the user query",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"policy_names": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string", "enum": enum},
				},
			},
			"required": []string{"policy_names"},
		},
	}
}

// PolicyRouter maps a question to the policy documents that can answer it.
type PolicyRouter struct {
	llm genai.ClientInterface
}

// NewPolicyRouter creates a PolicyRouter.
func NewPolicyRouter(llm genai.ClientInterface) *PolicyRouter {
	return &PolicyRouter{llm: llm}
}

// Route returns the known policies text refers to, or DefaultPolicy when it
// names none. Routing never fails: model errors fall back to DefaultPolicy.
func (r *PolicyRouter) Route(ctx context.Context, text string) []string {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(routerSystemPrompt),
		openai.UserMessage(text),
	}
	var out struct {
		PolicyNames []string `json:"policy_names"`
	}
	if err := genai.GenerateStructured(ctx, r.llm, messages, routerSchema(), &out); err != nil {
		slog.Warn("PolicyRouter.Route: routing failed, using default policy", "error", err)
		return []string{DefaultPolicy}
	}

	seen := make(map[string]bool)
	var policies []string
	for _, name := range out.PolicyNames {
		if !IsKnownPolicy(name) {
			slog.Debug("PolicyRouter.Route: dropping unknown policy", "policy", name)
			continue
		}
		if !seen[name] {
			seen[name] = true
			policies = append(policies, name)
		}
	}
	if len(policies) == 0 {
		return []string{DefaultPolicy}
	}
	slog.Debug("PolicyRouter.Route: routed", "policies", policies)
	return policies
}
