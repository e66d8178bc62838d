package entities

// F1 is the micro-averaged F1 score over entity tags (every tag but NoEntity) of the
// predicted against the gold sequences, up to each sequence's length. It is zero when
// neither side has any entity tag.
func F1(gold, predicted [][]int) float64 {
	var tp, fp, fn float64
	for i := range gold {
		for t, g := range gold[i] {
			if t >= len(predicted[i]) {
				break
			}
			p := predicted[i][t]
			switch {
			case p != 0 && p == g:
				tp++
			default:
				if p != 0 {
					fp++
				}
				if g != 0 {
					fn++
				}
			}
		}
	}
	if tp == 0 {
		return 0
	}
	precision := tp / (tp + fp)
	recall := tp / (tp + fn)
	return 2 * precision * recall / (precision + recall)
}
