package robustness

import "time"

// Catalogue options for the standard check set
type CatalogueOptions struct {
	Predictors      []string  // baseline predictor set
	CrisisOnset     time.Time // baseline moderator onset
	MinObservations int
}

// StandardCatalogue builds the default variation set: the full baseline for
// reference, a pre-crisis subsample, one model per single predictor, two
// alternative crisis onsets and the acute-crisis exclusion window.
func StandardCatalogue(opts CatalogueOptions) []Variation {
	onset := opts.CrisisOnset
	if onset.IsZero() {
		onset = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	}
	minObs := opts.MinObservations
	if minObs <= 0 {
		minObs = 30
	}

	variations := []Variation{
		{
			Name:            "baseline",
			Description:     "full sample, full specification",
			MinObservations: minObs,
		},
		{
			Name:            "pre_crisis",
			Description:     "subsample strictly before the crisis onset",
			SampleBefore:    onset,
			MinObservations: minObs,
		},
	}

	for _, p := range opts.Predictors {
		variations = append(variations, Variation{
			Name:            "only_" + p,
			Description:     "single-predictor specification: " + p,
			Predictors:      []string{p},
			MinObservations: minObs,
		})
	}

	variations = append(variations,
		Variation{
			Name:            "onset_minus_1m",
			Description:     "moderator switched on one month earlier",
			ModeratorOnset:  onset.AddDate(0, -1, 0),
			MinObservations: minObs,
		},
		Variation{
			Name:            "onset_plus_1m",
			Description:     "moderator switched on one month later",
			ModeratorOnset:  onset.AddDate(0, 1, 0),
			MinObservations: minObs,
		},
		Variation{
			Name:            "excl_acute_crisis",
			Description:     "acute crisis window removed from the sample",
			ExcludeFrom:     onset,
			ExcludeTo:       onset.AddDate(0, 4, 0),
			MinObservations: minObs,
		},
	)

	return variations
}
