package config

// Normalization constants for the OC20 S2EF 200k split.
const (
	oc20EnergyMean = -0.7554450631141663
	oc20Stdev      = 2.887317180633545
)

// OC20LMDBTrainValFromPaths builds the datasets section of a run
// configuration from LMDB source paths. Empty paths omit the split.
//
// With otfNorms false the train split carries the precomputed
// normalizer constants for energy and forces; with otfNorms true it
// instead requests an on-the-fly element-reference and normalizer fit
// and carries no literal constants.
func OC20LMDBTrainValFromPaths(trainSrc, valSrc, testSrc string, otfNorms bool) Document {
	datasets := Document{}

	if trainSrc != "" {
		train := Document{
			"src":    trainSrc,
			"format": "lmdb",
			"key_mapping": Document{
				"y":     "energy",
				"force": "forces",
			},
		}
		if otfNorms {
			train["transforms"] = Document{
				"element_references": Document{
					"fit": Document{
						"targets":     []any{"energy"},
						"batch_size":  4,
						"num_batches": 10,
						"driver":      "gelsd",
					},
				},
				"normalizer": Document{
					"fit": Document{
						"targets": Document{
							"energy": nil,
							"forces": Document{"mean": 0.0},
						},
						"batch_size":  4,
						"num_batches": 10,
					},
				},
			}
		} else {
			train["transforms"] = Document{
				"normalizer": Document{
					"energy": Document{
						"mean":  oc20EnergyMean,
						"stdev": oc20Stdev,
					},
					"forces": Document{
						"mean":  0.0,
						"stdev": oc20Stdev,
					},
				},
			}
		}
		datasets["train"] = train
	}

	if valSrc != "" {
		datasets["val"] = Document{"src": valSrc, "format": "lmdb"}
	}
	if testSrc != "" {
		datasets["test"] = Document{"src": testSrc, "format": "lmdb"}
	}

	return datasets
}
