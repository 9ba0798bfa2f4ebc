package signal

// Scalar sums every window directly. The other averagers are checked against it.
type Scalar struct{}

// Name returns the implementation name.
func (Scalar) Name() string { return "scalar" }

// Average computes the rolling mean of closes over window.
func (Scalar) Average(closes []float64, window int) (RollingAverageSeries, error) {
	if err := checkWindow(len(closes), window); err != nil {
		return RollingAverageSeries{}, err
	}
	out := newSeries(len(closes), window)
	w := float64(window)
	for i := window - 1; i < len(closes); i++ {
		sum := 0.0
		for _, c := range closes[i-window+1 : i+1] {
			sum += c
		}
		out.values[i] = sum / w
	}
	return out, nil
}
