package app

import (
	"context"
	"time"

	"abstats/domain/core"
	"abstats/domain/experiment"
	"abstats/internal/analysis"
	"abstats/internal/report"
	"abstats/ports"

	"golang.org/x/sync/errgroup"
)

// ReportService assembles read-only experiment summaries
type ReportService struct {
	experiments ports.ExperimentRepository
	frequentist *FrequentistService
	bayesian    ports.BayesianRepository
	sequential  *SequentialService
	bandit      ports.BanditRepository
	power       ports.PowerRepository
	now         func() time.Time
}

// NewReportService creates a report service
func NewReportService(
	experiments ports.ExperimentRepository,
	frequentist *FrequentistService,
	bayesian ports.BayesianRepository,
	sequential *SequentialService,
	bandit ports.BanditRepository,
	power ports.PowerRepository,
	now func() time.Time,
) *ReportService {
	return &ReportService{
		experiments: experiments,
		frequentist: frequentist,
		bayesian:    bayesian,
		sequential:  sequential,
		bandit:      bandit,
		power:       power,
		now:         now,
	}
}

// Summary loads every section concurrently. The sections are read
// independently and may be a few events apart.
func (s *ReportService) Summary(ctx context.Context, expID core.ExperimentID) (*report.Summary, error) {
	exp, err := s.experiments.Get(ctx, expID)
	if err != nil {
		return nil, err
	}
	out := &report.Summary{Experiment: exp, GeneratedAt: s.now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Frequentist, err = s.frequentist.Analyze(gctx, expID)
		return err
	})
	g.Go(func() error {
		var err error
		out.Power, err = s.power.ListPowerAnalyses(gctx, expID)
		return err
	})

	switch exp.Method {
	case experiment.MethodBayesian:
		g.Go(func() error {
			var err error
			out.Bayesian, err = s.bayesian.ListBayesian(gctx, expID)
			return err
		})
	case experiment.MethodSequential:
		g.Go(func() error {
			rows, err := s.sequential.Checks(gctx, expID)
			if err != nil {
				return err
			}
			out.Sequential = rows
			out.SequentialState, err = analysis.SequentialState(rows)
			return err
		})
	case experiment.MethodBandit:
		g.Go(func() error {
			var err error
			out.Bandit, err = s.bandit.ListBandit(gctx, expID)
			return err
		})
		g.Go(func() error {
			var err error
			out.Regret, err = s.bandit.ListRegret(gctx, expID)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
