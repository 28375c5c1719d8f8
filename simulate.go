package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"funnel-engine/internal/config"
	"funnel-engine/internal/engine"
	"funnel-engine/internal/model"
	"funnel-engine/internal/transitions"
)

func newSimulateCmd(dotenv *string) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <answer>...",
		Short: "Replay a visitor answering in order and report what the dialogue records",
		Args:  cobra.MaximumNArgs(model.QuestionCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*dotenv)
			if err != nil {
				return err
			}
			sc, err := loadScript(cfg.ScriptPath)
			if err != nil {
				return err
			}

			reg := transitions.NewDialogueRegistry(sc, transitions.DefaultDialogueTimings)
			out := engine.Process(reg, model.NewDialogue(0, ""), transitions.RehearsalEvents(args))

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "replay %s: %d applied, %d rejected in %s\n", out.ID, out.Applied, out.Rejected, out.Duration)
			for _, r := range out.Results {
				for _, n := range r.Notices {
					fmt.Fprintf(w, "  %s %s: %s\n", r.Event.Kind, n.Code, n.Message)
				}
			}
			for _, eff := range out.Effects() {
				switch eff.Kind {
				case model.EffectRecordAnswer:
					fmt.Fprintf(w, "answer %d [%s] %s\n", eff.Answer.QuestionID, eff.Category, eff.Answer.SelectedOption)
				case model.EffectTrack:
					fmt.Fprintf(w, "track %s %v\n", eff.Track.Name, eff.Track.Props)
				case model.EffectNavigate:
					fmt.Fprintf(w, "navigate %s\n", eff.URL)
				}
			}
			fmt.Fprintf(w, "phase %s, progress %.0f%%\n", out.End.Phase, out.End.Progress)
			return nil
		},
	}
}
