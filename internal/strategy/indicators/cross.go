package indicators

// CrossResult classifies how series A moved relative to series B between two bars.
type CrossResult int

const (
	NoCross CrossResult = iota
	UpCross
	DownCross
)

func (c CrossResult) String() string {
	switch c {
	case UpCross:
		return "UP"
	case DownCross:
		return "DOWN"
	default:
		return "NONE"
	}
}

// Classify compares A against B at the previous and the current bar.
// A crossed above B when it is now above and was at or below it; the mirror
// holds for a down cross. Any undefined reading yields NoCross.
func Classify(prevA, prevB, curA, curB Reading) CrossResult {
	if !prevA.Valid || !prevB.Valid || !curA.Valid || !curB.Valid {
		return NoCross
	}
	switch {
	case curA.Value > curB.Value && prevA.Value <= prevB.Value:
		return UpCross
	case curA.Value < curB.Value && prevA.Value >= prevB.Value:
		return DownCross
	default:
		return NoCross
	}
}
