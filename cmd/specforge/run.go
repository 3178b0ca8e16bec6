package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/pkg/pipeline"
)

func newRunCmd() *cobra.Command {
	var (
		output  string
		comment string
	)

	cmd := &cobra.Command{
		Use:   "run \"<product idea>\"",
		Short: "Run the full pipeline locally and print the resulting spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, err := buildComponents()
			if err != nil {
				return err
			}
			defer comps.Close()

			if !comps.client.Configured() {
				return fmt.Errorf("no model provider configured; set SPECFORGE_LLM_API_KEY or edit %s", configPath)
			}

			spec, err := runPipeline(cmd.Context(), comps, args[0], comment)
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, []byte(spec+"\n"), 0o644); err != nil {
					return fmt.Errorf("write spec: %w", err)
				}
				fmt.Printf("spec written to %s\n", output)
				return nil
			}
			fmt.Println(spec)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the final spec to a file instead of stdout")
	cmd.Flags().StringVar(&comment, "comment", "", "steering comment applied at the synthesis stage")
	return cmd
}

// runPipeline chains every stage in order, printing a one-line summary per
// stage the way the gateway's callers would see them.
func runPipeline(ctx context.Context, comps *components, idea, comment string) (string, error) {
	orc := pipeline.New(comps.cfg, comps.client, comps.tools, comps.store, nil)

	questions, err := orc.GenerateQuestions(ctx, idea)
	if err != nil {
		return "", fmt.Errorf("questions stage: %w", err)
	}
	fmt.Printf("questions: %d generated\n", len(questions.Questions))

	assignments := orc.AssignExperts(questions.Questions, comps.cfg.EnabledExperts())
	fmt.Printf("assignments: %d experts\n", len(assignments))

	research, err := orc.ExecuteResearch(ctx, idea, assignments)
	if err != nil {
		return "", fmt.Errorf("research stage: %w", err)
	}
	for _, r := range research.ResearchResults {
		fmt.Printf("research: %s confidence=%d iterations=%d tools=%d\n",
			r.ExpertID, r.Confidence, r.IterationsUsed, len(r.ToolsUsed))
	}

	challenge, err := orc.RunChallengeStage(ctx, idea, research.ResearchResults)
	if err != nil {
		return "", fmt.Errorf("challenge stage: %w", err)
	}
	fmt.Printf("challenge: %d challenges, %d resolutions\n",
		len(challenge.Challenges), len(challenge.DebateResolutions))

	synthesis, err := orc.Synthesize(ctx, idea, comment, research.ResearchResults, challenge.DebateResolutions)
	if err != nil {
		return "", fmt.Errorf("synthesis stage: %w", err)
	}
	fmt.Printf("synthesis: %d positions\n", len(synthesis.Syntheses))

	review, err := orc.Review(ctx, idea, synthesis.Syntheses, research.ResearchResults)
	if err != nil {
		return "", fmt.Errorf("review stage: %w", err)
	}
	fmt.Printf("review: score=%d passed=%t issues=%d\n",
		review.Review.OverallScore, review.Review.Passed, len(review.Review.Issues))
	if review.Escalation != nil {
		fmt.Printf("review: escalation recommends %q\n", review.Escalation.Recommendation)
	}

	voting, err := orc.Vote(ctx, idea, synthesis.Syntheses)
	if err != nil {
		return "", fmt.Errorf("voting stage: %w", err)
	}
	approved := 0
	for _, v := range voting.Votes {
		if v.Approved {
			approved++
		}
	}
	fmt.Printf("voting: %d/%d approved\n", approved, len(voting.Votes))

	spec, err := orc.GenerateSpec(ctx, idea, synthesis.Syntheses, voting.Votes)
	if err != nil {
		return "", fmt.Errorf("spec stage: %w", err)
	}
	fmt.Printf("spec: consensus=%d approvedBy=[%s]\n",
		spec.ConsensusScore, strings.Join(spec.ApprovedBy, ", "))

	return spec.Spec, nil
}
