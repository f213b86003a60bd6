package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/potentials/internal/classify"
	"github.com/sells-group/potentials/internal/spatial"
)

var (
	breaksValues    []float64
	breaksClasses   int
	breaksMethod    string
	breaksReference []float64
)

var breaksCmd = &cobra.Command{
	Use:   "breaks",
	Short: "Classify a list of values",
	Long:  "Derives class breaks for a list of values, by quantile or equal interval, or rescales reference breaks to the values so two maps share a legend.",
	RunE: func(cmd *cobra.Command, args []string) error {
		k := breaksClasses
		if k == 0 {
			k = cfg.Engine.Classes
		}
		method := breaksMethod
		if method == "" {
			method = cfg.Engine.Method
		}
		return writeBreaks(os.Stdout, breaksValues, k, method, breaksReference)
	},
}

func init() {
	breaksCmd.Flags().Float64SliceVar(&breaksValues, "values", nil, "comma-separated values to classify (required)")
	breaksCmd.Flags().IntVar(&breaksClasses, "k", 0, "number of classes (default from config)")
	breaksCmd.Flags().StringVar(&breaksMethod, "method", "", "quantile or equal (default from config)")
	breaksCmd.Flags().Float64SliceVar(&breaksReference, "reference", nil, "breaks of an earlier map to keep comparable")
	_ = breaksCmd.MarkFlagRequired("values")
	rootCmd.AddCommand(breaksCmd)
}

type breaksReport struct {
	Breaks []float64 `json:"breaks"`
	Counts []int     `json:"counts"`
}

// computeBreaks derives breaks and counts the values falling in each class.
func computeBreaks(values []float64, k int, method string, reference []float64) (breaksReport, error) {
	var breaks []float64
	var err error
	if len(reference) > 0 {
		breaks, err = classify.ComparableBreaks(reference, values)
	} else {
		m, perr := classify.ParseMethod(method)
		if perr != nil {
			return breaksReport{}, perr
		}
		switch m {
		case classify.MethodEqual:
			breaks, err = classify.EqualBreaks(values, k)
		case classify.MethodQuantile:
			breaks, err = classify.QuantileBreaks(values, k)
		default:
			return breaksReport{}, eris.Wrapf(spatial.ErrInvalidParameter, "breaks: method %s needs --reference", m)
		}
	}
	if err != nil {
		return breaksReport{}, err
	}

	classes, err := classify.Assign(values, breaks)
	if err != nil {
		return breaksReport{}, err
	}
	counts := make([]int, len(breaks)-1)
	for _, c := range classes {
		counts[c]++
	}
	return breaksReport{Breaks: breaks, Counts: counts}, nil
}

func writeBreaks(w io.Writer, values []float64, k int, method string, reference []float64) error {
	r, err := computeBreaks(values, k, method, reference)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(r)
}
