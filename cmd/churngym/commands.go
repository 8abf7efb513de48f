package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/okian/churngym/internal/adapters/dataset"
	service "github.com/okian/churngym/internal/app"
	"github.com/okian/churngym/internal/domain/features"
	"github.com/okian/churngym/internal/domain/model"
	"github.com/okian/churngym/internal/synth"
	"github.com/okian/churngym/pkg/logger"
)

const (
	defaultModelDir     = "models"
	topFeatures         = 5
	defaultSynthWorkers = 4
	filePerm            = 0o600
)

type featuresSummary struct {
	Rows             int    `json:"rows" yaml:"rows"`
	Columns          int    `json:"columns" yaml:"columns"`
	Labelled         bool   `json:"labelled" yaml:"labelled"`
	DefaultedTargets int    `json:"defaulted_targets" yaml:"defaulted_targets"`
	Out              string `json:"out,omitempty" yaml:"out,omitempty"`
}

type trainSummary struct {
	RunID        string                    `json:"run_id" yaml:"run_id"`
	RunName      string                    `json:"run_name" yaml:"run_name"`
	Rows         int                       `json:"rows" yaml:"rows"`
	ModelPath    string                    `json:"model_path" yaml:"model_path"`
	FinalMetrics map[string]float64        `json:"final_metrics,omitempty" yaml:"final_metrics,omitempty"`
	TopFeatures  []model.FeatureImportance `json:"top_features,omitempty" yaml:"top_features,omitempty"`
}

type generateSummary struct {
	Rows int    `json:"rows" yaml:"rows"`
	Out  string `json:"out" yaml:"out"`
}

func (a *app) featuresCmd() *cli.Command {
	return &cli.Command{
		Name:  "features",
		Usage: "Normalize the dataset and derive the feature table",
		Flags: []cli.Flag{
			dataFlag,
			&cli.StringFlag{Name: "out", Usage: "Write the feature table as CSV to this path"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc, err := a.newService(service.WithDataset(a.dataset(cmd.String(dataFlag.Name))))
			if err != nil {
				return err
			}
			vectors, err := svc.Features(ctx)
			if err != nil {
				return fmt.Errorf("failed to build features: %w", err)
			}

			table := features.ScoringTable(vectors)
			labelled := hasLabels(vectors)
			if labelled {
				table = features.TrainingTable(vectors)
			}

			out := cmd.String("out")
			if out != "" {
				if err := writeTable(out, table); err != nil {
					return err
				}
			}
			return a.encode(featuresSummary{
				Rows:             table.Len(),
				Columns:          len(table.Columns),
				Labelled:         labelled,
				DefaultedTargets: table.DefaultedTargets,
				Out:              out,
			})
		},
	}
}

func (a *app) trainCmd() *cli.Command {
	return &cli.Command{
		Name:  "train",
		Usage: "Train a churn model and record the run",
		Flags: []cli.Flag{
			dataFlag,
			&cli.StringFlag{Name: "model-dir", Usage: "Directory for baseline model files", Value: defaultModelDir},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tracker, err := a.tracker(ctx)
			if err != nil {
				return err
			}
			defer tracker.Close()

			svc, err := a.newService(
				service.WithDataset(a.dataset(cmd.String(dataFlag.Name))),
				service.WithTrainer(a.trainer(cmd.String("model-dir"))),
				service.WithTracker(tracker),
			)
			if err != nil {
				return err
			}
			res, err := svc.Train(ctx)
			if err != nil {
				return fmt.Errorf("training failed: %w", err)
			}

			summary := trainSummary{
				RunID:        res.RunID,
				RunName:      res.RunName,
				Rows:         res.Rows,
				ModelPath:    res.Artifact.ModelPath,
				FinalMetrics: map[string]float64{},
			}
			for name, curve := range res.Artifact.Curves {
				if len(curve) > 0 {
					summary.FinalMetrics[name] = curve[len(curve)-1]
				}
			}
			summary.TopFeatures = res.Artifact.Importances[:min(topFeatures, len(res.Artifact.Importances))]
			return a.encode(summary)
		},
	}
}

func (a *app) predictCmd() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Score the dataset, store the predictions and alert on high risk",
		Flags: []cli.Flag{
			dataFlag,
			&cli.StringFlag{Name: "model", Usage: "Model file to score with (overrides model_path)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			predictor, err := a.predictor(cmd.String("model"))
			if err != nil {
				return err
			}
			tracker, err := a.tracker(ctx)
			if err != nil {
				return err
			}
			defer tracker.Close()
			store, err := a.store(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			opts := []service.Option{
				service.WithDataset(a.dataset(cmd.String(dataFlag.Name))),
				service.WithPredictor(predictor),
				service.WithTracker(tracker),
				service.WithStore(store),
			}
			notifier, err := a.notifier()
			if err != nil {
				return err
			}
			if notifier != nil {
				opts = append(opts, service.WithNotifier(notifier))
			}

			svc, err := a.newService(opts...)
			if err != nil {
				return err
			}
			preds, err := svc.Predict(ctx)
			if err != nil {
				return fmt.Errorf("prediction failed: %w", err)
			}
			return a.encode(map[string]any{"predictions": preds})
		},
	}
}

func (a *app) generateCmd() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Generate synthetic members as CSV, or replay them against a running API",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "rows", Usage: "Number of members", Value: 1000},
			&cli.IntFlag{Name: "seed", Usage: "Random seed", Value: 42},
			&cli.FloatFlag{Name: "missing", Usage: "Probability that an optional field is blank", Value: 0.02},
			&cli.BoolFlag{Name: "unlabelled", Usage: "Omit the churn column"},
			&cli.StringFlag{Name: "out", Usage: "Output CSV path"},
			&cli.StringFlag{Name: "submit", Usage: "Base URL of a churngym API to POST the members to instead"},
			&cli.IntFlag{Name: "batch-size", Usage: "Members per request when submitting", Value: synth.DefaultBatchSize},
			&cli.IntFlag{Name: "workers", Usage: "Concurrent generators and submitters", Value: defaultSynthWorkers},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := synth.Config{
				Rows:       int(cmd.Int("rows")),
				Seed:       uint64(cmd.Int("seed")),
				Workers:    int(cmd.Int("workers")),
				Missing:    cmd.Float("missing"),
				Unlabelled: cmd.Bool("unlabelled"),
				Logger:     a.log.Named("synth"),
			}

			if base := cmd.String("submit"); base != "" {
				records, err := synth.Generate(ctx, cfg)
				if err != nil {
					return err
				}
				stats, err := synth.Submit(ctx, synth.SubmitConfig{
					BaseURL:   base,
					BatchSize: int(cmd.Int("batch-size")),
					Workers:   cfg.Workers,
					Timeout:   a.cfg.ScorerTimeout(),
					Logger:    a.log,
				}, records)
				if err != nil {
					return err
				}
				return a.encode(stats)
			}

			out := cmd.String("out")
			if out == "" {
				return fmt.Errorf("either --out or --submit is required")
			}
			f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			n, err := synth.WriteCSV(ctx, f, cfg)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			a.log.Info(ctx, "synthetic dataset written", logger.String("path", out), logger.Int("rows", n))
			return a.encode(generateSummary{Rows: n, Out: out})
		},
	}
}

func hasLabels(vectors []model.FeatureVector) bool {
	for _, v := range vectors {
		if v.Churn.IsSet() {
			return true
		}
	}
	return false
}

func writeTable(path string, table features.Table) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := dataset.WriteTable(f, table); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
