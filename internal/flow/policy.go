package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/InsureGuide/internal/models"
	"github.com/BTreeMap/InsureGuide/internal/retrieval"
)

const (
	policyInfoMenu = `Would you like to:
1. Ask another question about this policy
2. Get information about a different policy
3. Return to the main menu

Please type your choice (1, 2, or 3):`

	comparisonPrompt = "I need information about the policies you'd like to compare. Could you please provide details about the policies you're interested in?"
	comparisonMenu   = `Would you like to:
1. Compare different policies Again?
2. Get more details about any specific aspect?
3. Go to main menu?

Please let me know how I can help further!`
	aspectPrompt = "Which aspect of these policies would you like to know more about? (For example: waiting periods, room rent limits, claim settlement)"

	// defaultCompareCount is used when the request does not say how many
	// policies it names.
	defaultCompareCount = 2

	contextKeyMode = "mode"
	modeAspect     = "aspect"
)

// policyInfo answers a question about policies, insurers or the service.
func (e *Engine) policyInfo(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch

	if !in.fresh() {
		choice := strings.TrimSpace(*in.reply)
		switch choice {
		case "1", "2":
			patch.UserQuery = models.Cleared[*string]()
			return next(StepPolicyInfo, patch)
		case "3":
			patch.UserQuery = models.Cleared[*string]()
			if s.ReturnTo == "" {
				patch.UserIntentQuery = models.Cleared[*string]()
			}
			return Outcome{Patch: patch, Return: true}, nil
		}
		patch.UserQuery = models.Cleared[*string]()
		if s.ReturnTo == "" {
			patch.UserIntentQuery = models.Text(*in.reply)
		}
		return Outcome{Patch: patch, Return: true}, nil
	}

	if p.UserQuery == nil || strings.TrimSpace(*p.UserQuery) == "" {
		if s.ReturnTo == "" {
			patch.UserIntentQuery = models.Cleared[*string]()
		}
		return suspend(&Suspension{Step: StepPolicyInfo, Prompt: queryPrompt, Bind: BindUserQuery}, patch)
	}

	query := *p.UserQuery
	policies := e.deps.Router.Route(ctx, query)
	answer, err := e.deps.Knowledge.Answer(ctx, query, policies)
	if err != nil {
		return Outcome{}, err
	}
	slog.Info("Engine.policyInfo: answered", "sessionID", s.ID, "policies", policies, "source", answer.Source)

	names := answer.Policies
	if len(names) == 0 {
		names = policies
	}
	prompt := fmt.Sprintf("Here's what I found about %s (from %s):\n\n%s\n\n%s",
		strings.Join(names, ", "), answer.Source, answer.Text, policyInfoMenu)
	return suspend(&Suspension{Step: StepPolicyInfo, Prompt: prompt}, patch)
}

// policyComparison compares the policies named in the request.
func (e *Engine) policyComparison(ctx context.Context, s *Session, in stepInput) (Outcome, error) {
	p := s.Profile
	var patch models.Patch

	if !in.fresh() {
		reply := strings.TrimSpace(*in.reply)
		if in.context[contextKeyMode] == modeAspect {
			if p.UserIntentQuery == nil {
				return next(StepPolicyComparison, patch)
			}
			return e.compare(ctx, s, *p.UserIntentQuery, reply)
		}
		switch reply {
		case "1":
			patch.UserIntentQuery = models.Cleared[*string]()
			return next(StepPolicyComparison, patch)
		case "2":
			return suspend(&Suspension{
				Step:    StepPolicyComparison,
				Prompt:  aspectPrompt,
				Context: map[string]string{contextKeyMode: modeAspect},
			}, patch)
		case "3":
			patch.UserIntentQuery = models.Cleared[*string]()
			return Outcome{Patch: patch, Return: true}, nil
		}
		if s.ReturnTo == "" {
			patch.UserIntentQuery = models.Text(*in.reply)
		} else {
			patch.UserIntentQuery = models.Cleared[*string]()
		}
		return Outcome{Patch: patch, Return: true}, nil
	}

	if p.UserIntentQuery == nil || strings.TrimSpace(*p.UserIntentQuery) == "" {
		return suspend(&Suspension{Step: StepPolicyComparison, Prompt: comparisonPrompt, Bind: BindIntentQuery}, patch)
	}
	return e.compare(ctx, s, *p.UserIntentQuery, "")
}

func (e *Engine) compare(ctx context.Context, s *Session, query, aspect string) (Outcome, error) {
	k, err := e.deps.Knowledge.CountPolicies(ctx, query)
	switch {
	case errors.Is(err, retrieval.ErrNoCount):
		slog.Warn("Engine.compare: policy count not found, using default", "sessionID", s.ID, "default", defaultCompareCount)
		k = defaultCompareCount
	case err != nil:
		return Outcome{}, err
	}
	k = clamp(k, 1, e.cfg.MaxCompare)

	docs, err := e.deps.Knowledge.Summaries(ctx, query, k)
	if err != nil {
		return Outcome{}, err
	}
	result, err := e.deps.Knowledge.Compare(ctx, s.Profile.Summary(), query, retrieval.JoinSummaries(docs), aspect)
	if err != nil {
		return Outcome{}, err
	}
	slog.Info("Engine.compare: compared policies", "sessionID", s.ID, "requested", k, "found", len(docs), "aspect", aspect)

	prompt := "Here's a detailed comparison of the policies:\n\n" + result + "\n\n" + comparisonMenu
	return suspend(&Suspension{Step: StepPolicyComparison, Prompt: prompt}, models.Patch{})
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
